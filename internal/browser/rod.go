package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// Automation abstracts the browser process behind the controller so tests can
// substitute a stub. The real implementation is rod over CDP.
type Automation interface {
	// Launch starts (or restarts) the browser and returns a fresh page.
	Launch(ctx context.Context) (Page, error)
	// Close tears down the browser process. Must be safe to call repeatedly.
	Close() error
}

// Page is the slice of page-level automation the controller needs.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitElement(ctx context.Context, selector string, timeout time.Duration) error
	// Eval runs a zero-argument function expression in the page and returns
	// its boolean result.
	Eval(ctx context.Context, js string) (bool, error)
	Close() error
}

// RodOptions configures the real automation backend.
type RodOptions struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
}

type rodAutomation struct {
	opts     RodOptions
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewRodAutomation returns the CDP-backed automation used in production.
func NewRodAutomation(opts RodOptions) Automation {
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = 1280
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = 720
	}
	return &rodAutomation{opts: opts}
}

func (a *rodAutomation) Launch(ctx context.Context) (Page, error) {
	_ = a.Close()

	// Audio must start without a user gesture or the REPL stays silent.
	l := launcher.New().
		Headless(a.opts.Headless).
		Set(flags.Flag("autoplay-policy"), "no-user-gesture-required")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, err
	}
	a.launcher = l

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		a.launcher.Kill()
		a.launcher = nil
		return nil, err
	}
	a.browser = b

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	// Viewport override is best-effort; the REPL works at any size.
	_ = (proto.EmulationSetDeviceMetricsOverride{
		Width:             a.opts.ViewportWidth,
		Height:            a.opts.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page)

	return &rodPage{page: page}, nil
}

func (a *rodAutomation) Close() error {
	var err error
	if a.browser != nil {
		err = a.browser.Close()
		a.browser = nil
	}
	if a.launcher != nil {
		a.launcher.Kill()
		a.launcher = nil
	}
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) WaitElement(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	return err
}

func (p *rodPage) Eval(ctx context.Context, js string) (bool, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return false, err
	}
	if res == nil || res.Value.Nil() {
		return false, nil
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
