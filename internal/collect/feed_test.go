package collect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssFixture = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Coach Feed</title>
<item>
  <title>Muay Thai &amp; Clinch Conditioning Workout</title>
  <link>/posts/clinch</link>
  <guid>post-1</guid>
  <description><![CDATA[<p>Knees, <b>teeps</b> and rounds.</p>]]></description>
  <dc:creator>Coach Pim</dc:creator>
  <pubDate>Tue, 04 Mar 2025 10:00:00 +0000</pubDate>
</item>
<item>
  <title>Untitled link-less drill</title>
</item>
</channel></rss>`

const atomFixture = `<feed xmlns="http://www.w3.org/2005/Atom">
<entry>
  <id>tag:example,2025:1</id>
  <title type="html">Judo grip &lt;strength&gt; session</title>
  <link rel="replies" href="https://judo.test/comments/1"/>
  <link rel="alternate" href="https://judo.test/grip"/>
  <summary>Towel pull-ups for grip.</summary>
  <author><name>Sensei K</name></author>
  <published>2025-02-01T08:00:00Z</published>
</entry>
</feed>`

func TestParseFeedRSS(t *testing.T) {
	t.Parallel()

	items := ParseFeed(rssFixture, "https://coach.test/feed.xml")
	require.Len(t, items, 2)

	assert.Equal(t, "Muay Thai & Clinch Conditioning Workout", items[0].Title)
	assert.Equal(t, "https://coach.test/posts/clinch", items[0].Link)
	assert.Equal(t, "post-1", items[0].ID)
	assert.Equal(t, "Knees, teeps and rounds.", items[0].Description)
	assert.Equal(t, "Coach Pim", items[0].Author)

	assert.Equal(t, "https://coach.test/feed.xml", items[1].Link, "missing links fall back to the feed url")

	cands := feedCandidates(items)
	require.NotNil(t, cands[0].PublishedAt)
	assert.Equal(t, 2025, cands[0].PublishedAt.Year())
}

func TestParseFeedAtom(t *testing.T) {
	t.Parallel()

	items := ParseFeed(atomFixture, "https://judo.test/atom")
	require.Len(t, items, 1)
	assert.Equal(t, "https://judo.test/grip", items[0].Link)
	assert.Equal(t, "Sensei K", items[0].Author)
	assert.Equal(t, "Towel pull-ups for grip.", items[0].Description)
	assert.Equal(t, "2025-02-01T08:00:00Z", items[0].Published)
}
