package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"disguise/config"
)

// ChromedpTab is a chromedp tab used as a payload target. Calls run on the
// tab context and are also cancelled when the caller's ctx is.
type ChromedpTab struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	reports     inflight
}

// NewChromedpTab wraps an existing chromedp tab context.
func NewChromedpTab(tabCtx context.Context) *ChromedpTab {
	return &ChromedpTab{ctx: tabCtx}
}

// allocatorFlags are the command-line switches layered over chromedp's
// defaults. A false value removes a switch the defaults set.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	return map[string]interface{}{
		"headless":               cfg.Headless,
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",
		"disable-infobars":       true,
		"disable-features":       "IsolateOrigins,site-per-process",
	}
}

func execAllocatorOptions(cfg config.BrowserConfig, info LaunchInfo) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts,
		chromedp.WindowSize(info.Width, info.Height),
		chromedp.UserAgent(info.UserAgent),
	)
	if cfg.Bin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Bin))
	}
	return opts
}

func launchChromedp(ctx context.Context, cfg config.BrowserConfig, info LaunchInfo) (*ChromedpTab, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, execAllocatorOptions(cfg, info)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(info.Width), int64(info.Height))); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &ChromedpTab{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

func (c *ChromedpTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (c *ChromedpTab) AddScript(ctx context.Context, script string) error {
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("add script to evaluate on new document: %w", err)
	}
	return nil
}

// Bind adds a runtime binding; calls are delivered for the lifetime of the tab.
func (c *ChromedpTab) Bind(ctx context.Context, name string, fn func(payload string)) error {
	chromedp.ListenTarget(c.ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == name {
			// Listeners run on the event loop; never block it.
			c.reports.dispatch(fn, e.Payload)
		}
	})

	if err := c.run(ctx, runtime.AddBinding(name)); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}
	return nil
}

func (c *ChromedpTab) Evaluate(ctx context.Context, fn string) (string, error) {
	var out string
	err := c.run(ctx, chromedp.Evaluate("("+fn+")()", &out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	return out, nil
}

func (c *ChromedpTab) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Settle waits for diagnostic handlers still running. Events are dispatched
// in the order the tab receives them, so any report sent before the last
// completed call is covered.
func (c *ChromedpTab) Settle(ctx context.Context) error {
	return c.reports.wait(ctx)
}

func (c *ChromedpTab) Close() error {
	if c.cancelTab != nil {
		c.cancelTab()
	}
	if c.cancelAlloc != nil {
		c.cancelAlloc()
	}
	return nil
}
