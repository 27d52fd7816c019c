// Package browser delivers the payload into real pages. Both drivers register
// it through the DevTools "evaluate on new document" facility, which runs it
// before any script the page ships.
package browser

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"disguise/stealth"
)

// Target is a page context the payload can be registered with.
type Target interface {
	// AddScript registers script to run first in every new document.
	AddScript(ctx context.Context, script string) error
	// Bind exposes a host function on the page's global object; fn receives
	// the single string argument of each call.
	Bind(ctx context.Context, name string, fn func(payload string)) error
	// Evaluate calls a function expression and returns its awaited result.
	Evaluate(ctx context.Context, fn string) (string, error)
}

// Session is a launched browser with one page.
type Session interface {
	Target
	Navigate(ctx context.Context, url string) error
	// Settle blocks until diagnostic reports already received are handled.
	Settle(ctx context.Context) error
	Close() error
}

// inflight tracks binding handlers running on their own goroutines.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) dispatch(fn func(string), payload string) {
	f.mu.Lock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()

	go func() {
		defer f.done()
		fn(payload)
	}()
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collector gathers failures reported through the diagnostic binding.
// Binding calls arrive on driver goroutines.
type Collector struct {
	mu       sync.Mutex
	failures []stealth.Failure
}

func (c *Collector) Record(f stealth.Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

func (c *Collector) Failures() []stealth.Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stealth.Failure(nil), c.failures...)
}

// Install registers the payload with t. It must run before the first
// navigation; the ordering guarantee comes from the target, not the payload.
// When the payload carries a binding, failures it reports are logged and
// passed to sink.
func Install(ctx context.Context, t Target, p *stealth.Payload, sink func(stealth.Failure), log *zap.SugaredLogger) error {
	if p.Binding != "" {
		err := t.Bind(ctx, p.Binding, func(raw string) {
			f, err := stealth.DecodeFailure(raw)
			if err != nil {
				log.Warnw("undecodable diagnostic", "error", err)
				return
			}
			log.Warnw("patch unit failed", "unit", f.Unit, "kind", f.Kind, "message", f.Message)
			if sink != nil {
				sink(f)
			}
		})
		if err != nil {
			return fmt.Errorf("bind diagnostics: %w", err)
		}
	}

	if err := t.AddScript(ctx, p.Script); err != nil {
		return fmt.Errorf("register payload: %w", err)
	}

	log.Infow("payload registered",
		"units", p.Units,
		"diagnostics", p.Binding != "",
	)
	return nil
}
