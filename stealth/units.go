package stealth

import (
	"fmt"
	"strings"

	"disguise/profile"
)

// Unit names, also accepted in payload.units configuration.
const (
	UnitIdentity    = "identity"
	UnitPlugins     = "plugins"
	UnitLanguages   = "languages"
	UnitRuntimeStub = "chrome"
	UnitPermissions = "permissions"
	UnitGraphics    = "webgl"
)

const requireNavigator = `if (typeof navigator === 'undefined') {
	return missing('navigator');
}
`

// Identity hides navigator.webdriver: every read returns undefined, which is
// what a browser not under automation control reports.
type Identity struct{}

func (Identity) Name() string { return UnitIdentity }

func (Identity) Script(profile.Profile) (string, error) {
	return requireNavigator + `Object.defineProperty(navigator, 'webdriver', {
	get: () => undefined,
	configurable: true,
});`, nil
}

// PluginList replaces navigator.plugins with the profile's plugin table. Each
// read builds a fresh array carrying item, namedItem and refresh the way a
// PluginArray does.
type PluginList struct{}

func (PluginList) Name() string { return UnitPlugins }

func (PluginList) Script(p profile.Profile) (string, error) {
	return requireNavigator + fmt.Sprintf(`const table = %s;
Object.defineProperty(navigator, 'plugins', {
	get: () => {
		const plugins = table.map((p) => ({ name: p.name, filename: p.filename, description: p.description }));
		const hidden = (key, value) => Object.defineProperty(plugins, key, { value, configurable: true });
		hidden('item', (i) => plugins[i] || null);
		hidden('namedItem', (name) => plugins.find((p) => p.name === name) || null);
		hidden('refresh', () => {});
		return plugins;
	},
	configurable: true,
});`, jsValue(p.Plugins)), nil
}

// Locale pins navigator.languages. Index 0 is read as the primary locale, so
// order is kept exactly as configured.
type Locale struct{}

func (Locale) Name() string { return UnitLanguages }

func (Locale) Script(p profile.Profile) (string, error) {
	return requireNavigator + fmt.Sprintf(`const languages = Object.freeze(%s);
Object.defineProperty(navigator, 'languages', {
	get: () => languages,
	configurable: true,
});`, jsValue(p.Languages)), nil
}

// RuntimeStub creates window.chrome when the page has none. An existing
// namespace is left alone.
type RuntimeStub struct{}

func (RuntimeStub) Name() string { return UnitRuntimeStub }

func (RuntimeStub) Script(profile.Profile) (string, error) {
	return `if (typeof window === 'undefined') {
	return missing('window');
}
if (window.chrome) {
	return;
}
window.chrome = {
	runtime: {},
	loadTimes: function () {},
	csi: function () {},
	app: {},
};`, nil
}

// Permissions wraps navigator.permissions.query. The sentinel permission
// resolves to the live Notification.permission; everything else goes to the
// query captured at install time, on the same receiver.
type Permissions struct{}

func (Permissions) Name() string { return UnitPermissions }

func (Permissions) Script(p profile.Profile) (string, error) {
	return requireNavigator + fmt.Sprintf(`const permissions = navigator.permissions;
if (!permissions || typeof permissions.query !== 'function') {
	return missing('navigator.permissions.query');
}
const originalQuery = permissions.query;
const sentinel = %s;
permissions.query = ({
	query(parameters) {
		if (parameters && parameters.name === sentinel) {
			return new Promise((resolve) => resolve({ state: Notification.permission }));
		}
		return originalQuery.call(this, parameters);
	},
}).query;`, jsValue(p.PermissionSentinel)), nil
}

// Graphics wraps WebGL getParameter with an explicit switch over the intercept
// table. Unlisted codes call the captured original with the caller's receiver
// and arguments.
type Graphics struct{}

func (Graphics) Name() string { return UnitGraphics }

func (Graphics) Script(p profile.Profile) (string, error) {
	intercepts := p.Intercepts()

	var cases strings.Builder
	for _, code := range intercepts.Codes() {
		v, _ := intercepts.Lookup(code)
		fmt.Fprintf(&cases, "\t\t\t\tcase %d:\n\t\t\t\t\treturn %s;\n", code, jsValue(v))
	}

	return fmt.Sprintf(`const patch = (proto) => {
	const original = proto && proto.getParameter;
	if (typeof original !== 'function') {
		return false;
	}
	proto.getParameter = ({
		getParameter(parameter) {
			switch (parameter) {
%s			}
			return original.apply(this, arguments);
		},
	}).getParameter;
	return true;
};
if (typeof WebGL2RenderingContext !== 'undefined') {
	patch(WebGL2RenderingContext.prototype);
}
if (typeof WebGLRenderingContext === 'undefined' || !patch(WebGLRenderingContext.prototype)) {
	return missing('WebGLRenderingContext.prototype.getParameter');
}`, cases.String()), nil
}
