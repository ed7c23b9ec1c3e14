package scraper

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestReplayClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		w.Write([]byte(`{"Results":[]}`))
	}))
	defer srv.Close()

	client := newReplayClient("", 5*time.Second, false)
	defer client.CloseIdleConnections()

	resp, err := client.Get(srv.URL + "/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want /login", loc)
	}
}

// connectProxy is a minimal HTTP CONNECT proxy. It records the tunnel
// targets and rejects them with 407 when deny is set. wait blocks until
// every tunnel has been torn down.
func connectProxy(t *testing.T, deny bool) (srv *httptest.Server, targets func() []string, wait func()) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
		wg   sync.WaitGroup
	)
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "CONNECT only", http.StatusMethodNotAllowed)
			return
		}
		mu.Lock()
		seen = append(seen, r.Host)
		mu.Unlock()
		if deny {
			http.Error(w, "auth required", http.StatusProxyAuthRequired)
			return
		}

		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			upstream.Close()
			return
		}
		wg.Add(1)
		defer wg.Done()
		conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))

		done := make(chan struct{})
		go func() {
			io.Copy(conn, upstream)
			conn.Close()
			close(done)
		}()
		io.Copy(upstream, buf)
		upstream.Close()
		<-done
	}))
	targets = func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
	return srv, targets, wg.Wait
}

func TestReplayClient_TunnelsThroughHTTPProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Results":[]}`))
	}))
	defer backend.Close()
	proxySrv, targets, wait := connectProxy(t, false)
	defer proxySrv.Close()

	client := newReplayClient(proxySrv.URL, 5*time.Second, false)
	// The tunnel must close with the response so wait can return.
	client.Transport.(*http.Transport).DisableKeepAlives = true
	resp, err := client.Get(backend.URL + "/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	client.CloseIdleConnections()
	wait()

	if string(body) != `{"Results":[]}` {
		t.Errorf("body = %q", body)
	}
	backendHost := strings.TrimPrefix(backend.URL, "http://")
	if got := targets(); len(got) != 1 || got[0] != backendHost {
		t.Errorf("tunnel targets = %v, want [%s]", got, backendHost)
	}
}

func TestReplayClient_ProxyRefusesTunnel(t *testing.T) {
	proxySrv, _, wait := connectProxy(t, true)
	defer proxySrv.Close()

	client := newReplayClient(proxySrv.URL, 5*time.Second, false)
	_, err := client.Get("http://203.0.113.7/api")
	client.CloseIdleConnections()
	wait()

	if err == nil || !strings.Contains(err.Error(), "407") {
		t.Errorf("expected CONNECT refusal, got %v", err)
	}
}

func TestNewTunnelDialer(t *testing.T) {
	tests := []struct {
		name   string
		proxy  string
		direct bool
	}{
		{"no proxy", "", true},
		{"http", "http://127.0.0.1:8888", false},
		{"https", "https://proxy.example:8443", false},
		{"socks5", "socks5://127.0.0.1:1080", false},
		{"socks5 with auth", "socks5h://u:p@127.0.0.1:1080", false},
		{"unsupported scheme", "ftp://127.0.0.1:21", true},
		{"no host", "http://", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, isDirect := newTunnelDialer(tt.proxy).(*net.Dialer)
			if isDirect != tt.direct {
				t.Errorf("direct = %v, want %v", isDirect, tt.direct)
			}
		})
	}
}

func TestProxyAddr(t *testing.T) {
	for raw, want := range map[string]string{
		"http://p.example":       "p.example:80",
		"https://p.example":      "p.example:443",
		"http://p.example:3128":  "p.example:3128",
		"https://u:pw@p.example": "p.example:443",
	} {
		u, _ := url.Parse(raw)
		if got := proxyAddr(u); got != want {
			t.Errorf("proxyAddr(%s) = %s, want %s", raw, got, want)
		}
	}
}

func TestToHeadersMap(t *testing.T) {
	m := toHeadersMap(map[string]string{"Accept-Language": "en-CA"})
	if got := m["Accept-Language"].Str(); got != "en-CA" {
		t.Errorf("header = %q, want en-CA", got)
	}
}
