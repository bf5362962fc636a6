// Package relay runs a local, unauthenticated forward proxy that hands every
// request to an upstream proxy with credentials attached. Chrome's
// --proxy-server switch cannot carry a username and password, so the driver
// points the browser at a Relay instead.
package relay

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

const dialTimeout = 30 * time.Second

// hopHeaders are stripped before a request is forwarded.
var hopHeaders = []string{
	"Proxy-Connection",
	"Proxy-Authorization",
	"Proxy-Authenticate",
	"Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Upgrade",
}

// Relay is a running local forward proxy.
type Relay struct {
	upstream  *url.URL
	dialer    proxy.ContextDialer // direct or SOCKS5 dialer towards targets
	transport *http.Transport
	ln        net.Listener
	srv       *http.Server

	mu      sync.Mutex
	tunnels map[net.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// Start listens on 127.0.0.1 at a free port and relays to upstream, which
// must be an http, https, socks5 or socks5h URL.
func Start(upstream string) (*Relay, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("relay: parse upstream: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("relay: upstream %q has no host", u.Redacted())
	}

	r := &Relay{
		upstream: u,
		tunnels:  make(map[net.Conn]struct{}),
	}

	base := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	switch u.Scheme {
	case "http", "https":
		r.transport = &http.Transport{
			Proxy:               http.ProxyURL(u),
			DialContext:         base.DialContext,
			TLSHandshakeTimeout: 15 * time.Second,
			IdleConnTimeout:     90 * time.Second,
		}
	case "socks5", "socks5h":
		cd, err := socksDialer(u, base)
		if err != nil {
			return nil, err
		}
		r.dialer = cd
		r.transport = &http.Transport{
			DialContext:         cd.DialContext,
			TLSHandshakeTimeout: 15 * time.Second,
			IdleConnTimeout:     90 * time.Second,
		}
	default:
		return nil, fmt.Errorf("relay: unsupported upstream scheme %q", u.Scheme)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("relay: listen: %w", err)
	}
	r.ln = ln
	r.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("relay stopped", "error", err)
		}
	}()

	slog.Debug("relay started", "addr", ln.Addr().String(), "upstream", u.Redacted())
	return r, nil
}

// Addr is the host:port the browser should use as its proxy.
func (r *Relay) Addr() string {
	return r.ln.Addr().String()
}

// URL is Addr as an http:// proxy URL.
func (r *Relay) URL() string {
	return "http://" + r.Addr()
}

// Close stops accepting connections and tears down live tunnels. It returns
// once every tunnel goroutine has exited or ctx is done.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for c := range r.tunnels {
		c.Close()
	}
	r.mu.Unlock()

	err := r.srv.Shutdown(ctx)
	r.transport.CloseIdleConnections()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("relay: close: %w", err)
	}
	return nil
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		r.handleConnect(w, req)
		return
	}
	r.handleForward(w, req)
}

func (r *Relay) handleForward(w http.ResponseWriter, req *http.Request) {
	if !req.URL.IsAbs() {
		http.Error(w, "relay accepts proxy requests only", http.StatusBadRequest)
		return
	}

	out := req.Clone(req.Context())
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := r.transport.RoundTrip(out)
	if err != nil {
		slog.Debug("relay forward failed", "host", req.URL.Host, "error", err)
		r.writeBadGateway(w, err)
		return
	}
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (r *Relay) handleConnect(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), dialTimeout)
	defer cancel()

	upstream, err := r.dialTunnel(ctx, req.Host)
	if err != nil {
		slog.Debug("relay tunnel failed", "host", req.Host, "error", err)
		r.writeBadGateway(w, err)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, buf, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		return
	}
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	if !r.track(client, upstream) {
		client.Close()
		upstream.Close()
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.untrack(client, upstream)
		pipe(client, buf.Reader, upstream)
	}()
}

// dialTunnel opens a raw connection to target through the upstream proxy.
func (r *Relay) dialTunnel(ctx context.Context, target string) (net.Conn, error) {
	if r.dialer != nil {
		return r.dialer.DialContext(ctx, "tcp", target)
	}
	return connectVia(ctx, r.upstream, target)
}

// Dial opens a raw TCP connection to target through the proxy at upstream,
// using HTTP CONNECT or SOCKS5 depending on the scheme. An empty upstream
// dials target directly.
func Dial(ctx context.Context, upstream, target string) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	if upstream == "" {
		return d.DialContext(ctx, "tcp", target)
	}
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("relay: parse upstream: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return connectVia(ctx, u, target)
	case "socks5", "socks5h":
		sd, err := socksDialer(u, d)
		if err != nil {
			return nil, err
		}
		return sd.DialContext(ctx, "tcp", target)
	default:
		return nil, fmt.Errorf("relay: unsupported upstream scheme %q", u.Scheme)
	}
}

func socksDialer(u *url.URL, base *net.Dialer) (proxy.ContextDialer, error) {
	var auth *proxy.Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pass}
	}
	d, err := proxy.SOCKS5("tcp", u.Host, auth, base)
	if err != nil {
		return nil, fmt.Errorf("relay: socks5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("relay: socks5 dialer does not support contexts")
	}
	return cd, nil
}

// connectVia opens a CONNECT tunnel to target through an HTTP(S) proxy.
func connectVia(ctx context.Context, upstream *url.URL, target string) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if upstream.Scheme == "https" {
		conn, err = (&tls.Dialer{NetDialer: d}).DialContext(ctx, "tcp", hostWithPort(upstream))
	} else {
		conn, err = d.DialContext(ctx, "tcp", hostWithPort(upstream))
	}
	if err != nil {
		return nil, fmt.Errorf("dial upstream proxy: %w", err)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if auth := basicAuth(upstream.User); auth != "" {
		connectReq.Header.Set("Proxy-Authorization", auth)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := connectReq.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write CONNECT: %w", err)
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("upstream proxy refused CONNECT: %s", resp.Status)
	}
	conn.SetDeadline(time.Time{})

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

func (r *Relay) track(conns ...net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	for _, c := range conns {
		r.tunnels[c] = struct{}{}
	}
	return true
}

func (r *Relay) untrack(conns ...net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conns {
		delete(r.tunnels, c)
	}
}

// writeBadGateway answers with a 502 page carrying the upstream failure.
func (r *Relay) writeBadGateway(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	io.WriteString(w, ErrorPage(r.upstream.Scheme, err))
}

// ErrorPage renders the body returned when the upstream proxy fails.
func ErrorPage(scheme string, err error) string {
	msg := err.Error()
	if strings.HasPrefix(scheme, "socks5") && strings.Contains(strings.ToLower(msg), "authentication failed") {
		msg = "SOCKS5 authentication failed: " + msg
	}
	return fmt.Sprintf(
		"<html><head><title>502 Bad Gateway</title></head><body><h1>502 Bad Gateway</h1><p>%s</p></body></html>",
		html.EscapeString(msg),
	)
}

func basicAuth(u *url.Userinfo) string {
	if u == nil {
		return ""
	}
	pass, _ := u.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(u.Username()+":"+pass))
}

func hostWithPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

// pipe copies in both directions until either side closes.
func pipe(client net.Conn, clientBuf *bufio.Reader, upstream net.Conn) {
	defer client.Close()
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, clientBuf)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
