package profile

import (
	"errors"
	"fmt"
	"sort"
)

// WebGL debug-renderer-info enums. Pages read these through
// getParameter once the WEBGL_debug_renderer_info extension is enabled.
const (
	UnmaskedVendorWebGL   = 37445
	UnmaskedRendererWebGL = 37446
)

// NotificationsPermission is the permission name detection scripts probe to
// compare the query result against Notification.permission.
const NotificationsPermission = "notifications"

var ErrInvalidProfile = errors.New("invalid profile")

// PluginDescriptor mimics one entry of navigator.plugins.
type PluginDescriptor struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

// PluginList is the ordered plugin table. It carries the same lookup surface a
// genuine PluginArray has, so Go callers can reason about the page-side
// collection with the same semantics.
type PluginList []PluginDescriptor

// Item returns the plugin at position i.
func (l PluginList) Item(i int) (PluginDescriptor, bool) {
	if i < 0 || i >= len(l) {
		return PluginDescriptor{}, false
	}
	return l[i], true
}

// NamedItem returns the first plugin whose name matches exactly.
func (l PluginList) NamedItem(name string) (PluginDescriptor, bool) {
	for _, p := range l {
		if p.Name == name {
			return p, true
		}
	}
	return PluginDescriptor{}, false
}

// Refresh is a no-op, as it is for a static plugin table.
func (l PluginList) Refresh() {}

// Names returns the plugin names in table order.
func (l PluginList) Names() []string {
	names := make([]string, 0, len(l))
	for _, p := range l {
		names = append(names, p.Name)
	}
	return names
}

// ParameterInterceptMap maps a getParameter code to its replacement string.
// Codes not present must reach the original accessor.
type ParameterInterceptMap map[int]string

func (m ParameterInterceptMap) Lookup(code int) (string, bool) {
	v, ok := m[code]
	return v, ok
}

// Codes returns the intercepted codes in ascending order.
func (m ParameterInterceptMap) Codes() []int {
	codes := make([]int, 0, len(m))
	for c := range m {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// Profile is the fixed persona asserted to observers. The automation flag has
// no field: it is always reported absent.
type Profile struct {
	Plugins            PluginList
	Languages          []string
	GPUVendor          string
	GPURenderer        string
	PermissionSentinel string
}

// Default returns the Windows/Intel Xe, en-US + ko-KR persona. Each call
// returns an independent copy.
func Default() Profile {
	return Profile{
		Plugins: PluginList{
			{Name: "Chrome PDF Plugin", Filename: "internal-pdf-viewer", Description: "Portable Document Format"},
			{Name: "Chrome PDF Viewer", Filename: "mhjfbmdgcfjbbpaeojofohoefgiehjai", Description: ""},
			{Name: "Native Client", Filename: "internal-nacl-plugin", Description: ""},
		},
		Languages:          []string{"en-US", "en", "ko-KR", "ko"},
		GPUVendor:          "Intel Inc.",
		GPURenderer:        "Intel(R) Iris(R) Xe Graphics",
		PermissionSentinel: NotificationsPermission,
	}
}

// Intercepts builds the getParameter intercept table from the GPU pair.
func (p Profile) Intercepts() ParameterInterceptMap {
	return ParameterInterceptMap{
		UnmaskedVendorWebGL:   p.GPUVendor,
		UnmaskedRendererWebGL: p.GPURenderer,
	}
}

func (p Profile) Validate() error {
	if len(p.Plugins) == 0 {
		return fmt.Errorf("%w: plugin table is empty", ErrInvalidProfile)
	}
	for i, pl := range p.Plugins {
		if pl.Name == "" {
			return fmt.Errorf("%w: plugin %d has no name", ErrInvalidProfile, i)
		}
	}
	if len(p.Languages) == 0 {
		return fmt.Errorf("%w: language list is empty", ErrInvalidProfile)
	}
	if p.GPUVendor == "" || p.GPURenderer == "" {
		return fmt.Errorf("%w: gpu vendor and renderer must be set", ErrInvalidProfile)
	}
	if p.PermissionSentinel == "" {
		return fmt.Errorf("%w: permission sentinel must be set", ErrInvalidProfile)
	}
	return nil
}
