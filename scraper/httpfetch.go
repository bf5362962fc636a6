package scraper

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	utls "github.com/refraction-networking/utls"

	"github.com/use-agent/chromefetch/relay"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DirectWANAddress asks probeURL for the caller's public address without a
// browser. The request goes through proxyURI when it is set and presents a
// Chrome TLS fingerprint.
func DirectWANAddress(ctx context.Context, probeURL, proxyURI string) (string, error) {
	return directWANAddress(ctx, probeURL, proxyURI, nil)
}

func directWANAddress(ctx context.Context, probeURL, proxyURI string, roots *x509.CertPool) (string, error) {
	body, err := directGet(ctx, probeURL, proxyURI, roots)
	if err != nil {
		return "", err
	}
	addr := strings.TrimSpace(string(body))
	if addr == "" {
		return "", fmt.Errorf("httpfetch: empty response from %s", probeURL)
	}
	return addr, nil
}

// directGet performs one GET. Every connection is dialled via relay.Dial so
// proxies behave the same as they do behind the browser relay.
func directGet(ctx context.Context, targetURL, proxyURI string, roots *x509.CertPool) ([]byte, error) {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return relay.Dial(ctx, proxyURI, addr)
		},
		DialTLSContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, addr, proxyURI, roots)
		},
		ForceAttemptHTTP2: false,
	}
	client := &http.Client{Transport: transport}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("httpfetch: HTTP %d for %s", resp.StatusCode, targetURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}
	return body, nil
}

// chromeH1Spec is Chrome's ClientHello with ALPN limited to http/1.1, since
// http.Transport cannot speak HTTP/2 over a utls connection. A fresh spec is
// built per connection because ApplyPreset keeps the extension values.
func chromeH1Spec() (*utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			break
		}
	}
	return &spec, nil
}

// dialTLSChrome opens a TLS connection with a Chrome ClientHello. A nil roots
// uses the system pool.
func dialTLSChrome(ctx context.Context, addr, proxyURI string, roots *x509.CertPool) (net.Conn, error) {
	spec, err := chromeH1Spec()
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build tls spec: %w", err)
	}
	rawConn, err := relay.Dial(ctx, proxyURI, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := utls.UClient(rawConn, &utls.Config{ServerName: host, RootCAs: roots}, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("httpfetch: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
