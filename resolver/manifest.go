package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"github.com/use-agent/chromefetch/version"
)

// DefaultManifestURL is the Chrome for Testing "known good versions" endpoint.
const DefaultManifestURL = "https://googlechromelabs.github.io/chrome-for-testing/known-good-versions-with-downloads.json"

// maxManifestBytes bounds the manifest body; the real document is a few MB.
const maxManifestBytes = 64 << 20

// ManifestEntry is one published version with its driver downloads.
type ManifestEntry struct {
	Raw       string
	Version   version.Version
	Downloads map[string]string // manifest platform -> zip URL
}

// Manifest is the list of published versions, sorted ascending.
type Manifest []ManifestEntry

// fetchManifest downloads and decodes the manifest. Entries with an
// unparseable version are skipped. The result is sorted ascending by version
// regardless of the order the endpoint returned.
func fetchManifest(ctx context.Context, client *retryablehttp.Client, url string) (Manifest, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest: HTTP %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("manifest: read body: %w", err)
	}
	return parseManifest(body)
}

// parseManifest decodes {"versions": [{"version", "downloads": {"chromedriver": [{"platform","url"}]}}]}.
func parseManifest(body []byte) (Manifest, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("manifest: invalid JSON")
	}
	versions := gjson.GetBytes(body, "versions")
	if !versions.IsArray() {
		return nil, fmt.Errorf("manifest: missing versions array")
	}

	var m Manifest
	versions.ForEach(func(_, v gjson.Result) bool {
		raw := v.Get("version").String()
		parsed, err := version.Parse(raw)
		if err != nil {
			slog.Debug("manifest: skipping entry with bad version", "version", raw)
			return true
		}
		entry := ManifestEntry{
			Raw:       raw,
			Version:   parsed,
			Downloads: make(map[string]string),
		}
		v.Get("downloads.chromedriver").ForEach(func(_, d gjson.Result) bool {
			if p, u := d.Get("platform").String(), d.Get("url").String(); p != "" && u != "" {
				entry.Downloads[p] = u
			}
			return true
		})
		m = append(m, entry)
		return true
	})

	slices.SortStableFunc(m, func(a, b ManifestEntry) int {
		return version.Compare(a.Version, b.Version)
	})
	return m, nil
}

// Exact returns the entry equal to v that offers a download for platform.
func (m Manifest) Exact(v version.Version, platform string) (ManifestEntry, bool) {
	for _, e := range m {
		if e.Version.Equal(v) {
			if _, ok := e.Downloads[platform]; ok {
				return e, true
			}
		}
	}
	return ManifestEntry{}, false
}

// NearestBelow returns the highest entry with version <= v that offers a
// download for platform. m must be sorted ascending.
func (m Manifest) NearestBelow(v version.Version, platform string) (ManifestEntry, bool) {
	// First entry strictly above v; everything before it is a candidate.
	cut := len(m)
	for i, e := range m {
		if version.Compare(e.Version, v) > 0 {
			cut = i
			break
		}
	}
	for i := cut - 1; i >= 0; i-- {
		if _, ok := m[i].Downloads[platform]; ok {
			return m[i], true
		}
	}
	return ManifestEntry{}, false
}
