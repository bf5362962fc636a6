package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// WANAddress loads probeURL through the fetch loop and returns the address
// the probe service echoed back, i.e. the public address of the proxy used.
func (f *Fetcher) WANAddress(ctx context.Context, probeURL string) (string, error) {
	res, err := f.FetchWithRetry(ctx, probeURL)
	if err != nil {
		return "", err
	}
	addr := probeText(res.HTML)
	if addr == "" {
		return "", fmt.Errorf("scraper: probe page from %s has no text", probeURL)
	}
	return addr, nil
}

// probeText extracts the echoed address. Browsers wrap a text/plain body in
// a <pre>; anything else falls back to the body text.
func probeText(page string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return strings.TrimSpace(page)
	}
	if pre := doc.Find("pre").First(); pre.Length() > 0 {
		return strings.TrimSpace(pre.Text())
	}
	return strings.TrimSpace(doc.Find("body").Text())
}

// extractTitle returns the trimmed text of the first <title> element.
func extractTitle(page string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(page))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}
