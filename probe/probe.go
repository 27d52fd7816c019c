// Package probe reads the disguised fingerprint back out of a page and checks
// it against the profile the payload was built from.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"disguise/profile"
	"disguise/stealth"
)

// Evaluator calls a JavaScript function expression in a page and returns its
// (awaited) result as a string.
type Evaluator interface {
	Evaluate(ctx context.Context, fn string) (string, error)
}

// Fingerprint is what detection code would observe.
type Fingerprint struct {
	Webdriver              string   `json:"webdriver"`
	Languages              []string `json:"languages"`
	Plugins                []string `json:"plugins"`
	PluginSurface          bool     `json:"pluginSurface"`
	PluginItemMatches      bool     `json:"pluginItemMatches"`
	PluginNamedMissingNull bool     `json:"pluginNamedMissingIsNull"`
	Chrome                 bool     `json:"chrome"`
	WebGLVendor            string   `json:"webglVendor"`
	WebGLRenderer          string   `json:"webglRenderer"`
	NotificationState      string   `json:"notificationState"`
	NotificationPermission string   `json:"notificationPermission"`
}

// Check is one observable compared against the profile. Unit names the patch
// unit responsible for it; empty means none in particular.
type Check struct {
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
	Pass bool   `json:"pass"`
	Got  string `json:"got"`
	Want string `json:"want"`
}

type Report struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Checks      []Check     `json:"checks"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

// Only drops the checks that belong to units outside units. Checks tied to no
// unit are kept.
func (r Report) Only(units []string) Report {
	keep := make(map[string]bool, len(units))
	for _, u := range units {
		keep[u] = true
	}
	out := Report{Fingerprint: r.Fingerprint}
	for _, c := range r.Checks {
		if c.Unit == "" || keep[c.Unit] {
			out.Checks = append(out.Checks, c)
		}
	}
	return out
}

func (r Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Pass {
			failed = append(failed, c)
		}
	}
	return failed
}

// Run evaluates the read-back script through ev and checks it against p.
func Run(ctx context.Context, ev Evaluator, p profile.Profile) (Report, error) {
	raw, err := ev.Evaluate(ctx, Script())
	if err != nil {
		return Report{}, fmt.Errorf("evaluate probe: %w", err)
	}

	var fp Fingerprint
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return Report{}, fmt.Errorf("decode probe result: %w", err)
	}

	return Report{Fingerprint: fp, Checks: Compare(fp, p)}, nil
}

// Compare checks a fingerprint against the profile.
func Compare(fp Fingerprint, p profile.Profile) []Check {
	return []Check{
		eq(stealth.UnitIdentity, "webdriver", fp.Webdriver, "undefined"),
		eq(stealth.UnitLanguages, "languages", strings.Join(fp.Languages, ","), strings.Join(p.Languages, ",")),
		eq(stealth.UnitPlugins, "plugins", strings.Join(fp.Plugins, ","), strings.Join(p.Plugins.Names(), ",")),
		is(stealth.UnitPlugins, "plugin collection surface", fp.PluginSurface),
		is(stealth.UnitPlugins, "plugin item matches index", fp.PluginItemMatches),
		is(stealth.UnitPlugins, "plugin namedItem miss is null", fp.PluginNamedMissingNull),
		is(stealth.UnitRuntimeStub, "chrome namespace", fp.Chrome),
		eq(stealth.UnitGraphics, "webgl vendor", fp.WebGLVendor, p.GPUVendor),
		eq(stealth.UnitGraphics, "webgl renderer", fp.WebGLRenderer, p.GPURenderer),
		eq(stealth.UnitPermissions, "notification query", fp.NotificationState, fp.NotificationPermission),
	}
}

func eq(unit, name, got, want string) Check {
	return Check{Name: name, Unit: unit, Pass: got == want, Got: got, Want: want}
}

func is(unit, name string, got bool) Check {
	return Check{Name: name, Unit: unit, Pass: got, Got: fmt.Sprint(got), Want: "true"}
}

// Script returns the read-back function. It prefers a real WebGL context and
// falls back to calling the prototype accessor directly, which only succeeds
// when the intercept answers without touching the native implementation.
func Script() string {
	return fmt.Sprintf(readBack, profile.UnmaskedVendorWebGL, profile.UnmaskedRendererWebGL)
}

const readBack = `() => {
	const fp = {
		webdriver: typeof navigator.webdriver === 'undefined' ? 'undefined' : String(navigator.webdriver),
		languages: [],
		plugins: [],
		pluginSurface: false,
		pluginItemMatches: false,
		pluginNamedMissingIsNull: false,
		chrome: typeof window.chrome === 'object' && window.chrome !== null,
		webglVendor: '',
		webglRenderer: '',
		notificationState: '',
		notificationPermission: typeof Notification === 'undefined' ? '' : String(Notification.permission),
	};
	try {
		fp.languages = Array.prototype.slice.call(navigator.languages || []);
	} catch (_) {}
	try {
		const plugins = navigator.plugins;
		for (let i = 0; i < plugins.length; i++) {
			fp.plugins.push(plugins[i].name);
		}
		fp.pluginSurface = ['item', 'namedItem', 'refresh'].every((k) => typeof plugins[k] === 'function');
		if (fp.pluginSurface) {
			fp.pluginItemMatches = plugins.length > 0 && Array.prototype.every.call(plugins, (p, i) => plugins.item(i) === p);
			fp.pluginNamedMissingIsNull = plugins.namedItem('nonexistent') === null;
		}
	} catch (_) {}
	try {
		let gl = null;
		if (typeof document !== 'undefined' && document.createElement) {
			gl = document.createElement('canvas').getContext('webgl');
		}
		const read = (code) => gl ? gl.getParameter(code) : WebGLRenderingContext.prototype.getParameter.call(null, code);
		fp.webglVendor = String(read(%d));
		fp.webglRenderer = String(read(%d));
	} catch (_) {}
	const done = () => JSON.stringify(fp);
	try {
		return navigator.permissions.query({ name: 'notifications' }).then((s) => {
			fp.notificationState = String(s.state);
			return done();
		}, done);
	} catch (_) {
		return done();
	}
}`
