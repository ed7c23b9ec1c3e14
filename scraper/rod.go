package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/ysmood/gson"
)

// RodLauncher starts a dedicated Chromium process for every Fetch call.
type RodLauncher struct {
	cfg     config.BrowserConfig
	client  *http.Client
	metrics *Metrics
}

// NewRodLauncher creates a launcher. loadTimeout bounds how long the target
// response may take to load once intercepted.
func NewRodLauncher(cfg config.BrowserConfig, loadTimeout time.Duration, metrics *Metrics) *RodLauncher {
	return &RodLauncher{
		cfg:     cfg,
		client:  newReplayClient(cfg.Proxy, loadTimeout, cfg.IgnoreCertErrors),
		metrics: metrics,
	}
}

// Launch starts Chromium and connects to it over CDP.
func (r *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	l := launcher.New().
		Context(ctx).
		Headless(r.cfg.Headless).
		NoSandbox(r.cfg.NoSandbox)

	if r.cfg.BrowserBin != "" {
		l = l.Bin(r.cfg.BrowserBin)
	}
	if r.cfg.Proxy != "" {
		l = l.Proxy(r.cfg.Proxy)
	}

	// ── Container + stealth flags ────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-accelerated-2d-canvas"))
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("no-zygote"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-extensions"))

	slog.Info("launching browser",
		"headless", r.cfg.Headless,
		"bin", r.cfg.BrowserBin,
	)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeResourceAcquisition,
			"failed to launch browser",
			err,
		)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, models.NewScrapeError(
			models.ErrCodeResourceAcquisition,
			"failed to connect to browser",
			err,
		)
	}
	if r.cfg.IgnoreCertErrors {
		if err := browser.IgnoreCertErrors(true); err != nil {
			slog.Warn("failed to ignore certificate errors", "error", err)
		}
	}
	slog.Info("browser launched", "controlURL", controlURL)

	return &rodBrowser{
		browser:  browser,
		launcher: l,
		client:   r.client,
		metrics:  r.metrics,
	}, nil
}

// rodBrowser owns one Chromium process.
type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	client   *http.Client
	metrics  *Metrics

	closeOnce sync.Once
	closeErr  error
}

func (b *rodBrowser) NewPage(ctx context.Context) (PageContext, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	eventsCtx, cancelEvents := context.WithCancel(context.Background())
	return &rodPage{
		// Detach from ctx so Close still works after the attempt deadline.
		page:         page.Context(context.Background()),
		client:       b.client,
		metrics:      b.metrics,
		eventsCtx:    eventsCtx,
		cancelEvents: cancelEvents,
	}, nil
}

// Close disconnects from and kills the browser process. Safe to call twice.
func (b *rodBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.browser.Close()
		b.launcher.Kill()
		b.launcher.Cleanup()
	})
	return b.closeErr
}

// rodPage is a PageContext backed by a rod tab.
type rodPage struct {
	page    *rod.Page
	client  *http.Client
	metrics *Metrics

	filter     *NetworkFilter
	idleWindow time.Duration
	router     *rod.HijackRouter

	mu     sync.Mutex
	waiter *responseWaiter

	// loadCtx bounds target loads; it ends with the attempt or on Close.
	loadCtx    context.Context
	cancelLoad context.CancelFunc

	eventsCtx    context.Context
	cancelEvents context.CancelFunc
	closeOnce    sync.Once
	closeErr     error
}

func (p *rodPage) Prepare(ctx context.Context, opts PageOptions) error {
	pg := p.page.Context(ctx)

	// Stealth must be installed before any navigation.
	if opts.Stealth {
		if _, err := pg.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if opts.UserAgent != "" {
		if err := pg.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		if err := pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Viewport.Width,
			Height:            opts.Viewport.Height,
			DeviceScaleFactor: 1,
			Mobile:            false,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if len(opts.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(opts.Headers)}).Call(pg); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}

	p.filter = opts.Filter
	p.idleWindow = opts.IdleWindow
	p.startLoads(ctx)
	p.watchPageErrors()

	// Pattern "*" + empty resource type = intercept ALL requests, then
	// decide per request.
	p.router = p.page.HijackRequests()
	if err := p.router.Add("*", "", p.handle); err != nil {
		return fmt.Errorf("install request interceptor: %w", err)
	}
	// router.Run() blocks until router.Stop().
	go p.router.Run()
	return nil
}

// handle is consulted for every outgoing request of the page.
func (p *rodPage) handle(h *rod.Hijack) {
	u := h.Request.URL().String()
	w := p.currentWaiter()

	switch routeRequest(p.filter, w, string(h.Request.Type()), u, h.Request.Method()) {
	case routeBlock:
		p.metrics.IncBlocked()
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
	case routeCapture:
		p.capture(h, w, u)
	default:
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}
}

// route is what the page does with one outgoing request.
type route int

const (
	routeContinue route = iota
	routeBlock
	routeCapture
)

// routeRequest applies the filter first, then the matcher. Capturing claims
// w, so only the first matching request is captured; later ones continue.
func routeRequest(filter *NetworkFilter, w *responseWaiter, resourceType, url, method string) route {
	if filter != nil && filter.Decide(resourceType, url) == Block {
		return routeBlock
	}
	if w != nil && w.matcher.Matches(url, method) && w.claim() {
		return routeCapture
	}
	return routeContinue
}

// capture loads the target request through the replay client, hands the
// response to the page and to the waiter.
func (p *rodPage) capture(h *rod.Hijack, w *responseWaiter, u string) {
	method := h.Request.Method()

	// Paused requests carry no cookies; the browser adds them later.
	if cookies, err := p.page.Cookies([]string{u}); err == nil && len(cookies) > 0 {
		pairs := make([]string, 0, len(cookies))
		for _, c := range cookies {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
		h.Request.Req().Header.Set("Cookie", strings.Join(pairs, "; "))
	}

	h.Request.SetContext(p.loadCtx)
	if err := h.LoadResponse(p.client, true); err != nil {
		h.Response.Fail(proto.NetworkErrorReasonFailed)
		w.deliver(CapturedResponse{URL: u, Method: method, Err: err})
		return
	}

	payload := h.Response.Payload()
	w.deliver(CapturedResponse{
		URL:        u,
		Method:     method,
		Status:     payload.ResponseCode,
		StatusText: payload.ResponsePhrase,
		Body:       payload.Body,
	})
}

func (p *rodPage) WaitResponse(m ResponseMatcher) <-chan CapturedResponse {
	w := newResponseWaiter(m)
	p.mu.Lock()
	p.waiter = w
	p.mu.Unlock()
	return w.ch
}

func (p *rodPage) currentWaiter() *responseWaiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiter
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)

	// The idle listener MUST exist before Navigate or early requests are
	// missed and the wait returns instantly.
	var waitIdle func()
	if p.idleWindow > 0 {
		waitIdle = pg.WaitRequestIdle(p.idleWindow, nil, nil, []proto.NetworkResourceType{
			proto.NetworkResourceTypeWebSocket,
			proto.NetworkResourceTypeEventSource,
		})
	}

	slog.Info("navigating", "url", url)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	if waitIdle != nil {
		waitIdle()
	} else if err := pg.WaitLoad(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("navigation complete")
	return nil
}

func (p *rodPage) Scroll(ctx context.Context, dy int) error {
	_, err := p.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

// Close stops interception and closes the tab. Safe to call twice.
func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		p.cancelEvents()
		p.stopLoads()
		if p.router != nil {
			if err := p.router.Stop(); err != nil {
				slog.Debug("failed to stop hijack router", "error", err)
			}
		}
		p.closeErr = p.page.Close()
	})
	return p.closeErr
}

// startLoads ties target loads to the attempt context ctx.
func (p *rodPage) startLoads(ctx context.Context) {
	p.loadCtx, p.cancelLoad = context.WithCancel(ctx)
}

// stopLoads aborts any in-flight target load.
func (p *rodPage) stopLoads() {
	if p.cancelLoad != nil {
		p.cancelLoad()
	}
}

// watchPageErrors logs uncaught page exceptions and renderer crashes until
// the page is closed.
func (p *rodPage) watchPageErrors() {
	wait := p.page.Context(p.eventsCtx).EachEvent(
		func(e *proto.RuntimeExceptionThrown) {
			if e.ExceptionDetails != nil {
				slog.Debug("page javascript error", "error", e.ExceptionDetails.Text)
			}
		},
		func(e *proto.InspectorTargetCrashed) {
			slog.Warn("page crashed")
		},
	)
	go wait()
}

// responseWaiter hands the first matching response to one receiver.
type responseWaiter struct {
	matcher ResponseMatcher
	claimed atomic.Bool
	ch      chan CapturedResponse
}

func newResponseWaiter(m ResponseMatcher) *responseWaiter {
	return &responseWaiter{matcher: m, ch: make(chan CapturedResponse, 1)}
}

// claim reserves the waiter for one response; later matches pass through.
func (w *responseWaiter) claim() bool {
	return w.claimed.CompareAndSwap(false, true)
}

// deliver never blocks: ch has room for the single claimed response.
func (w *responseWaiter) deliver(r CapturedResponse) {
	w.ch <- r
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
