// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package browser implements the browsing side of resolution on top of a
// headless Chromium driven through go-rod: isolated per-job pages, network
// request interception, and the hardened launch profile player sites expect.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/autovod/harvestarr/internal/resolver"
)

const manifestSuffix = ".m3u8"

// Config holds browser launch and probe behavior.
type Config struct {
	UserAgent      string
	Locale         string
	ViewportWidth  int
	ViewportHeight int
	NavTimeout     time.Duration
	SettleDelay    time.Duration
}

// DefaultConfig returns the hardened profile the pipeline ships with.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Locale:         "en-US",
		ViewportWidth:  1366,
		ViewportHeight: 768,
		NavTimeout:     60 * time.Second,
		SettleDelay:    500 * time.Millisecond,
	}
}

// stealthScript scrubs the most common automation tells before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'platform', { get: () => 'Linux x86_64' });
Object.defineProperty(navigator, 'plugins', { get: () => [1,2,3,4,5] });
`

// Engine owns the headless Chromium instance and hands out isolated
// surfaces. The browser itself is shared read-only; each surface is
// exclusively owned by one job.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewEngine builds an engine; Start must be called before NewSurface.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Locale == "" {
		cfg.Locale = def.Locale
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = def.ViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = def.ViewportHeight
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = def.NavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	return &Engine{cfg: cfg}
}

// Start launches Chromium and connects. A failure here is fatal for the
// run; there is nothing to harvest without a browser.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-features", "UserAgentClientHint").
		Set("disable-dev-shm-usage")

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("connect to chromium: %w", err)
	}

	e.launcher = l
	e.browser = browser
	log.Debug().Str("controlURL", controlURL).Msg("browser engine started")
	return nil
}

// Close shuts the browser down and cleans up the launched process.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.launcher != nil {
		e.launcher.Cleanup()
		e.launcher = nil
	}
	return err
}

// NewSurface opens an isolated incognito page configured with the spoofed
// identity. The returned surface satisfies resolver.Surface.
func (e *Engine) NewSurface(ctx context.Context) (resolver.Surface, error) {
	e.mu.Lock()
	browser := e.browser
	e.mu.Unlock()

	if browser == nil {
		return nil, fmt.Errorf("browser engine not started")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      e.cfg.UserAgent,
		AcceptLanguage: e.cfg.Locale,
		Platform:       "Linux x86_64",
	}).Call(page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("override user agent: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             e.cfg.ViewportWidth,
		Height:            e.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Debug().Err(err).Msg("failed to set viewport")
	}

	if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
		log.Debug().Err(err).Msg("failed to install stealth script")
	}

	return &surface{page: page, cfg: e.cfg}, nil
}

// surface is one exclusive browsing page.
type surface struct {
	page *rod.Page
	cfg  Config
}

// Probe navigates to the candidate URL while watching outbound requests for
// the first one whose path ends in the manifest extension. The listener is
// attached before navigation begins and torn down on every exit path so a
// reused surface never leaks observers between attempts.
func (s *surface) Probe(ctx context.Context, candidateURL string, timeout time.Duration) (string, error) {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	found := make(chan string, 1)
	wait := s.page.Context(watchCtx).EachEvent(func(ev *proto.NetworkRequestWillBeSent) bool {
		if !isManifestRequest(ev.Request.URL) {
			return false
		}
		select {
		case found <- ev.Request.URL:
		default:
		}
		return true
	})
	go wait()

	navCtx, cancelNav := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancelNav()
	if err := s.page.Context(navCtx).Navigate(candidateURL); err != nil {
		return "", fmt.Errorf("navigate %s: %w", candidateURL, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	settle := time.NewTimer(s.cfg.SettleDelay)
	defer settle.Stop()

	for {
		select {
		case manifestURL := <-found:
			return manifestURL, nil
		case <-settle.C:
			// One synthetic interaction to wake players that only request
			// the manifest after user input.
			s.click()
		case <-deadline.C:
			return "", resolver.ErrNoManifest
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (s *surface) click() {
	center := proto.Point{
		X: float64(s.cfg.ViewportWidth) / 2,
		Y: float64(s.cfg.ViewportHeight) / 2,
	}
	if err := s.page.Mouse.MoveTo(center); err != nil {
		return
	}
	if err := s.page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		log.Trace().Err(err).Msg("synthetic click failed")
	}
}

func (s *surface) Close() error {
	return s.page.Close()
}

// isManifestRequest reports whether a request targets a manifest: its URL
// path ends in the manifest extension.
func isManifestRequest(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return strings.HasSuffix(strings.ToLower(rawURL), manifestSuffix)
	}
	return strings.HasSuffix(strings.ToLower(u.Path), manifestSuffix)
}
