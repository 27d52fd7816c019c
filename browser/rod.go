package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"disguise/config"
)

// RodPage is a go-rod page used as a payload target.
type RodPage struct {
	browser *rod.Browser
	page    *rod.Page
	reports inflight
}

// NewRodPage wraps an existing rod page, for callers that run their own
// browser.
func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page}
}

func launchRod(ctx context.Context, cfg config.BrowserConfig, info LaunchInfo) (*RodPage, error) {
	launchURL, err := launcher.New().
		Context(ctx).
		// If a specific browser binary is provided, use it (helps in pinned Chrome revisions).
		Bin(cfg.Bin).
		Leakless(false).
		Headless(cfg.Headless).
		// These flags avoid exposing Chrome's automation bits often probed by bot defenses.
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-extensions").
		Set("disable-component-update").
		Set("disable-client-side-phishing-detection").
		Set("window-size", fmt.Sprintf("%d,%d", info.Width, info.Height)).
		Set("user-agent", info.UserAgent).
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             info.Width,
		Height:            info.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	return &RodPage{browser: browser, page: page}, nil
}

func (r *RodPage) AddScript(ctx context.Context, script string) error {
	if _, err := r.page.Context(ctx).EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("eval on new document: %w", err)
	}
	return nil
}

// Bind adds a runtime binding and forwards its calls to fn until the page
// closes.
func (r *RodPage) Bind(ctx context.Context, name string, fn func(payload string)) error {
	if err := (proto.RuntimeAddBinding{Name: name}).Call(r.page.Context(ctx)); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}

	wait := r.page.EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == name {
			r.reports.dispatch(fn, e.Payload)
		}
	})
	go wait()
	return nil
}

func (r *RodPage) Evaluate(ctx context.Context, fn string) (string, error) {
	res, err := r.page.Context(ctx).Eval(fn)
	if err != nil {
		return "", fmt.Errorf("eval: %w", err)
	}
	return res.Value.Str(), nil
}

func (r *RodPage) Navigate(ctx context.Context, url string) error {
	p := r.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Settle waits for diagnostic handlers still running. rod fans events out
// asynchronously, so a report the page sent just before the last call may
// not have been dispatched yet.
func (r *RodPage) Settle(ctx context.Context) error {
	return r.reports.wait(ctx)
}

func (r *RodPage) Close() error {
	if r.browser != nil {
		return r.browser.Close()
	}
	return r.page.Close()
}
