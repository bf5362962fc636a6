package driver

import (
	"fmt"
	"net/url"

	"github.com/use-agent/chromefetch/relay"
)

// proxyServer returns the --proxy-server value for proxy. Credentialed
// proxies are fronted by a local relay, which the caller must close.
func proxyServer(proxy string) (string, *relay.Relay, error) {
	if proxy == "" {
		return "", nil, nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return "", nil, fmt.Errorf("driver: parse proxy: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("driver: proxy %q needs a scheme and host", u.Redacted())
	}
	if u.User == nil {
		return u.Scheme + "://" + u.Host, nil, nil
	}

	r, err := relay.Start(proxy)
	if err != nil {
		return "", nil, err
	}
	return r.URL(), r, nil
}
