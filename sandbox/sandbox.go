// Package sandbox emulates the slice of browser surface the disguise payload
// touches, on top of goja, so the payload can be installed and probed without
// a browser.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var ErrPending = errors.New("promise still pending")

type options struct {
	notificationPermission string
	chrome                 bool
	lockedWebdriver        bool
	permissions            bool
	webgl                  bool
	webgl2                 bool
	logger                 *zap.Logger
}

// Option customises the emulated page.
type Option func(*options)

// WithNotificationPermission sets the initial Notification.permission.
func WithNotificationPermission(state string) Option {
	return func(o *options) { o.notificationPermission = state }
}

// WithChrome seeds a genuine-looking window.chrome before any script runs.
func WithChrome() Option {
	return func(o *options) { o.chrome = true }
}

// WithLockedWebdriver makes navigator.webdriver a non-configurable own
// property, as some hardened hosts do.
func WithLockedWebdriver() Option {
	return func(o *options) { o.lockedWebdriver = true }
}

func WithoutPermissions() Option {
	return func(o *options) { o.permissions = false }
}

func WithoutWebGL() Option {
	return func(o *options) { o.webgl = false }
}

func WithWebGL2() Option {
	return func(o *options) { o.webgl2 = true }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Host is one emulated page context. It is safe for concurrent use; calls are
// serialized, the same as on a page's script thread.
type Host struct {
	mu    sync.Mutex
	vm    *goja.Runtime
	state *goja.Object
	log   *zap.Logger
}

// New builds a fresh page context. Defaults: webdriver true, no plugins,
// languages ["en-US"], permissions and WebGL present, no window.chrome,
// Notification.permission "default".
func New(opts ...Option) (*Host, error) {
	o := options{
		notificationPermission: "default",
		permissions:            true,
		webgl:                  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	vm := goja.New()
	state, err := object(vm, map[string]interface{}{
		"queries":    vm.NewArray(),
		"parameters": vm.NewArray(),
	})
	if err != nil {
		return nil, err
	}
	cfg, err := object(vm, map[string]interface{}{
		"notificationPermission": o.notificationPermission,
		"chrome":                 o.chrome,
		"lockedWebdriver":        o.lockedWebdriver,
		"permissions":            o.permissions,
		"webgl":                  o.webgl,
		"webgl2":                 o.webgl2,
	})
	if err != nil {
		return nil, err
	}

	boot, err := vm.RunString(bootstrap)
	if err != nil {
		return nil, fmt.Errorf("compile bootstrap: %w", err)
	}
	fn, ok := goja.AssertFunction(boot)
	if !ok {
		return nil, errors.New("bootstrap is not a function")
	}
	if _, err := fn(goja.Undefined(), state, cfg); err != nil {
		return nil, fmt.Errorf("run bootstrap: %w", err)
	}

	return &Host{
		vm:    vm,
		state: state,
		log:   o.logger.Named("sandbox"),
	}, nil
}

// AddScript runs script at once. In a fresh Host nothing else has run yet, so
// this matches registering it for evaluation on a new document.
func (h *Host) AddScript(ctx context.Context, script string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.run(ctx, script)
	if err != nil {
		return fmt.Errorf("add script: %w", err)
	}
	h.log.Debug("script evaluated", zap.Int("bytes", len(script)))
	return nil
}

// Bind exposes fn as a global function taking one string argument, the way
// a CDP runtime binding does.
func (h *Host) Bind(_ context.Context, name string, fn func(payload string)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		fn(call.Argument(0).String())
		return goja.Undefined()
	})
}

// Evaluate calls a function expression and returns its result as a string.
// A returned promise must already be settled once the job queue drains.
func (h *Host) Evaluate(ctx context.Context, fn string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := h.run(ctx, "("+fn+")()")
	if err != nil {
		return "", err
	}
	v, err = settle(v)
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// Run evaluates raw statements and returns the completion value, settling it
// if it is a promise.
func (h *Host) Run(src string) (goja.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, err := h.run(context.Background(), src)
	if err != nil {
		return nil, err
	}
	return settle(v)
}

// QueryCalls lists the permission names the original query received.
func (h *Host) QueryCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string
	for _, v := range exportSlice(h.state.Get("queries")) {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// LastQuery is the promise most recently returned by the original query.
func (h *Host) LastQuery() goja.Value {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state.Get("lastQuery")
}

// ParameterCalls lists the codes the original getParameter received.
func (h *Host) ParameterCalls() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []int64
	for _, v := range exportSlice(h.state.Get("parameters")) {
		switch n := v.(type) {
		case int64:
			out = append(out, n)
		case float64:
			out = append(out, int64(n))
		}
	}
	return out
}

func object(vm *goja.Runtime, fields map[string]interface{}) (*goja.Object, error) {
	obj := vm.NewObject()
	for k, v := range fields {
		if err := obj.Set(k, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}
	return obj, nil
}

func (h *Host) run(ctx context.Context, src string) (goja.Value, error) {
	done := make(chan struct{})
	defer close(done)

	h.vm.ClearInterrupt()
	go func() {
		select {
		case <-ctx.Done():
			h.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	v, err := h.vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("javascript interrupted: %w", ctx.Err())
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, fmt.Errorf("javascript exception: %s", exc.Value().String())
		}
		return nil, fmt.Errorf("javascript error: %w", err)
	}
	return v, nil
}

func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", p.Result().String())
	default:
		return nil, ErrPending
	}
}

func exportSlice(v goja.Value) []interface{} {
	if v == nil {
		return nil
	}
	s, _ := v.Export().([]interface{})
	return s
}

// bootstrap receives the host-side state object and the option flags. Stubs
// keep their bookkeeping in state, never on the page's global object.
const bootstrap = `(function (state, opts) {
	const global = globalThis;
	global.window = global;
	global.self = global;

	class Navigator {}
	Object.defineProperties(Navigator.prototype, {
		webdriver: { get() { return true; }, configurable: true, enumerable: true },
		plugins: { get() { return []; }, configurable: true, enumerable: true },
		languages: { get() { return ['en-US']; }, configurable: true, enumerable: true },
	});
	const navigator = new Navigator();
	if (opts.lockedWebdriver) {
		Object.defineProperty(navigator, 'webdriver', { value: true, writable: false, configurable: false });
	}

	if (opts.permissions) {
		const known = ['geolocation', 'notifications', 'camera', 'microphone', 'clipboard-read'];
		navigator.permissions = {
			query(descriptor) {
				const name = descriptor && descriptor.name;
				state.queries.push(String(name));
				let result;
				if (known.indexOf(name) < 0) {
					result = Promise.reject(new TypeError("Failed to execute 'query' on 'Permissions': invalid permission name"));
					result.catch(() => {});
				} else {
					result = Promise.resolve({ name, state: 'prompt', receiver: this === navigator.permissions });
				}
				state.lastQuery = result;
				return result;
			},
		};
	}
	global.navigator = navigator;
	global.Notification = { permission: opts.notificationPermission };

	const contextType = (name) => {
		const ctor = function () {};
		ctor.prototype.getParameter = function getParameter(pname) {
			state.parameters.push(pname);
			return (this && this.label ? this.label : 'unbound') + '#' + pname;
		};
		global[name] = ctor;
	};
	if (opts.webgl) {
		contextType('WebGLRenderingContext');
	}
	if (opts.webgl2) {
		contextType('WebGL2RenderingContext');
	}

	if (opts.chrome) {
		global.chrome = { runtime: { id: 'native' }, app: { isInstalled: false } };
	}
})`
