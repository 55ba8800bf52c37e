package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// Options configures the Chrome process.
type Options struct {
	Headless   bool
	ExecPath   string
	UserAgents []string
	Proxy      string
	Width      int
	Height     int
	Timeout    time.Duration
}

// Chrome is a Browser that launches a fresh Chrome process for every
// session from one shared set of exec allocator options. Sessions share no
// cookies or cache, and a crashed process only takes its own session down.
type Chrome struct {
	opts        Options
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

// NewChrome prepares an exec allocator. No process starts until the first
// session.
func NewChrome(opts Options) *Chrome {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 800
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	if bin := opts.ExecPath; bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(bin))
	} else if bin := findChromeBinary(); bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(bin))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return &Chrome{opts: opts, allocCtx: allocCtx, cancelAlloc: cancel}
}

// NewSession starts a Chrome process with one tab. It is started eagerly so
// that a broken Chrome installation surfaces here rather than on first
// navigation.
func (c *Chrome) NewSession(ctx context.Context) (Session, error) {
	tabCtx, cancel := chromedp.NewContext(c.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	// Tie the process to the caller's lifetime.
	stop := context.AfterFunc(ctx, cancel)

	if err := chromedp.Run(tabCtx); err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}

	if ua := c.pickUserAgent(); ua != "" {
		if err := chromedp.Run(tabCtx, emulation.SetUserAgentOverride(ua)); err != nil {
			slog.Warn("Failed to set user agent", "error", err)
		}
	}

	return &chromeSession{ctx: tabCtx, cancel: cancel, stop: stop, timeout: c.opts.Timeout}, nil
}

// Close stops any Chrome processes still running.
func (c *Chrome) Close() error {
	c.cancelAlloc()
	return nil
}

func (c *Chrome) pickUserAgent() string {
	if len(c.opts.UserAgents) == 0 {
		return ""
	}
	return c.opts.UserAgents[rand.IntN(len(c.opts.UserAgents))]
}

type chromeSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stop    func() bool
	timeout time.Duration
}

func (s *chromeSession) Navigate(ctx context.Context, url string) (int, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	if resp == nil {
		return 0, ErrNoResponse
	}
	return int(resp.Status), nil
}

func (s *chromeSession) WaitReady(ctx context.Context, selectors ...string) error {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	actions := make([]chromedp.Action, 0, len(selectors))
	for _, sel := range selectors {
		actions = append(actions, chromedp.WaitReady(sel, chromedp.ByQuery))
	}
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (s *chromeSession) Close() error {
	s.stop()
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}

// bounded derives a context from the tab that also honors the caller's
// deadline and the per-operation timeout.
func (s *chromeSession) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// findChromeBinary locates a Chrome or Chromium binary, preferring CHROME_BIN.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, p := range []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
