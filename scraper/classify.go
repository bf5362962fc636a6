package scraper

import "strings"

// errorHints are markers of an error page served by a proxy instead of the
// target site.
var errorHints = []string{
	"<h1>502 Bad Gateway</h1>",
	"<p>ProtocolException",
	"<title>502 Bad Gateway</title>",
}

// specificErrors name the upstream failure behind an error page.
var specificErrors = []string{
	"An existing connection was forcibly closed by the remote host",
	"No connection could be made because the target machine actively refused it",
	"Socket error: Connection closed unexpectedly",
	"SOCKS5 authentication failed",
}

// Verdict is the outcome of classifying a page source.
type Verdict struct {
	Empty    bool
	Hint     string // first matching error hint
	Specific string // first matching specific error, only looked for after a hint
}

// Failed reports whether the page should be retried with a longer delay.
func (v Verdict) Failed() bool {
	return v.Hint != "" || v.Specific != ""
}

// Classify scans a page source for proxy error markers.
func Classify(body string) Verdict {
	if body == "" {
		return Verdict{Empty: true}
	}
	var v Verdict
	for _, h := range errorHints {
		if strings.Contains(body, h) {
			v.Hint = h
			break
		}
	}
	if v.Hint == "" {
		return v
	}
	for _, e := range specificErrors {
		if strings.Contains(body, e) {
			v.Specific = e
			break
		}
	}
	return v
}
