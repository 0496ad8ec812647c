// Package htmltext turns fetched HTML pages into plain text for collection and extraction.
package htmltext

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/k3a/html2text"
)

// Page is the readable content of one HTML document.
type Page struct {
	Title       string
	Description string
	Text        string
}

// Parse strips script, style and noscript blocks and returns the title, meta description, and
// whitespace-collapsed body text.
func Parse(html string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, svg").Remove()

	title := strings.TrimSpace(doc.Find("head title").First().Text())
	if title == "" {
		title, _ = doc.Find("meta[property='og:title']").Attr("content")
	}
	if title == "" {
		title = doc.Find("h1").First().Text()
	}

	desc, _ := doc.Find("meta[name='description']").Attr("content")
	if strings.TrimSpace(desc) == "" {
		desc, _ = doc.Find("meta[property='og:description']").Attr("content")
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	// Rendering through html2text keeps block boundaries as whitespace; Selection.Text would glue
	// adjacent headings and paragraphs together.
	inner, err := body.Html()
	if err != nil {
		return Page{}, fmt.Errorf("render body: %w", err)
	}
	return Page{
		Title:       Collapse(title),
		Description: Collapse(desc),
		Text:        Collapse(html2text.HTML2Text(inner)),
	}, nil
}

// Decode converts an HTML fragment (feed titles, summaries) into plain text with entities resolved.
func Decode(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if strings.HasPrefix(fragment, "<![CDATA[") {
		fragment = strings.TrimSuffix(strings.TrimPrefix(fragment, "<![CDATA["), "]]>")
	}
	return Collapse(html2text.HTML2Text(fragment))
}

// Collapse folds every whitespace run into one space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate bounds s to at most limit runes, cutting at a word boundary when one is near.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if idx := strings.LastIndexByte(cut, ' '); idx > len(cut)*3/4 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
