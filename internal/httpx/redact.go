package httpx

import (
	"net/url"
	"strings"
)

const redacted = "REDACTED"

var sensitiveParams = map[string]struct{}{
	"key":           {},
	"api_key":       {},
	"apikey":        {},
	"access_token":  {},
	"token":         {},
	"client_secret": {},
	"secret":        {},
	"signature":     {},
	"sig":           {},
	"password":      {},
	"auth":          {},
}

// RedactURL replaces the values of credential-bearing query parameters and strips userinfo so the
// result is safe to log.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	for name := range q {
		if _, ok := sensitiveParams[strings.ToLower(name)]; ok {
			q.Set(name, redacted)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
