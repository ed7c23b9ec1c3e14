package scraper

import (
	"bufio"
	"context"
	stdtls "crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
)

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only. Computed once at init time and reused for every connection.
var (
	chromeH1Spec  tls.ClientHelloSpec
	chromeSpecErr error
)

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		chromeSpecErr = fmt.Errorf("replay: build chrome tls spec: %w", err)
		slog.Error("chrome tls fingerprint unavailable, target capture will fail", "error", err)
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// newReplayClient returns the client used to load the intercepted target
// request on the browser's behalf. It presents a Chrome TLS fingerprint and
// never follows redirects, so a loaded response always belongs to the
// request URL; the browser follows any redirect itself.
//
// A proxy is reached by tunnelling (HTTP CONNECT or SOCKS5) underneath the
// utls handshake. http.Transport's own Proxy support is not used: it would
// run the TLS handshake itself and drop the fingerprint.
func newReplayClient(proxyURL string, timeout time.Duration, insecure bool) *http.Client {
	dialer := newTunnelDialer(proxyURL)
	transport := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, dialer, network, addr, insecure)
		},
		ForceAttemptHTTP2: false,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// contextDialer is satisfied by *net.Dialer, the SOCKS5 dialer of
// golang.org/x/net/proxy and connectDialer.
type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// newTunnelDialer returns the dialer for raw target connections. An
// unusable proxy is logged and the target is loaded directly.
func newTunnelDialer(rawProxy string) contextDialer {
	direct := &net.Dialer{Timeout: 10 * time.Second}
	if rawProxy == "" {
		return direct
	}
	u, err := url.Parse(rawProxy)
	if err != nil || u.Host == "" {
		slog.Warn("invalid proxy URL, replay client loads the target directly")
		return direct
	}
	switch u.Scheme {
	case "http", "https":
		return &connectDialer{proxy: u, dialer: direct}
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, direct)
		if err == nil {
			if cd, ok := d.(proxy.ContextDialer); ok {
				return cd
			}
		}
		slog.Warn("socks proxy unusable, replay client loads the target directly", "error", err)
		return direct
	default:
		slog.Warn("unsupported proxy scheme, replay client loads the target directly", "scheme", u.Scheme)
		return direct
	}
}

// connectDialer opens a tunnel through an HTTP(S) proxy with CONNECT.
type connectDialer struct {
	proxy  *url.URL
	dialer *net.Dialer
}

func (d *connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", proxyAddr(d.proxy))
	if err != nil {
		return nil, fmt.Errorf("replay: dial proxy: %w", err)
	}
	if d.proxy.Scheme == "https" {
		tlsConn := stdtls.Client(conn, &stdtls.Config{ServerName: d.proxy.Hostname()})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("replay: proxy tls handshake: %w", err)
		}
		conn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if user := d.proxy.User; user != nil {
		password, _ := user.Password()
		creds := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replay: write CONNECT: %w", err)
	}
	// The proxy sends nothing after its reply until the client speaks, so
	// the buffered reader cannot swallow tunnel bytes.
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("replay: read CONNECT response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		conn.Close()
		return nil, fmt.Errorf("replay: proxy CONNECT %s: %s", addr, resp.Status)
	}
	return conn, nil
}

func proxyAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

func dialTLSChrome(ctx context.Context, dialer contextDialer, network, addr string, insecure bool) (net.Conn, error) {
	if chromeSpecErr != nil {
		return nil, chromeSpecErr
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host, InsecureSkipVerify: insecure}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replay: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}
