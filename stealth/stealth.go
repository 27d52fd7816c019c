package stealth

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"disguise/profile"
)

var (
	ErrUnknownUnit    = errors.New("unknown patch unit")
	ErrInvalidBinding = errors.New("invalid binding name")
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Unit is one independently installed patch. Script returns a block of
// statements that runs inside its own install guard; the block may call
// missing(what) to report that the object it patches does not exist.
type Unit interface {
	Name() string
	Script(p profile.Profile) (string, error)
}

// Options controls payload assembly.
type Options struct {
	// Binding names a host function the payload reports install failures
	// through. Empty keeps the payload silent.
	Binding string
}

// Payload is the assembled script, ready to be registered with a target
// before any page script runs.
type Payload struct {
	Script  string
	Units   []string
	Binding string
}

// DefaultUnits returns the six patch units in canonical order.
func DefaultUnits() []Unit {
	return []Unit{
		Identity{},
		PluginList{},
		Locale{},
		RuntimeStub{},
		Permissions{},
		Graphics{},
	}
}

// UnitsByName resolves configured unit names. An empty list selects every unit.
func UnitsByName(names []string) ([]Unit, error) {
	all := DefaultUnits()
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]Unit, len(all))
	for _, u := range all {
		byName[u.Name()] = u
	}

	seen := make(map[string]bool, len(names))
	units := make([]Unit, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		u, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownUnit, n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		units = append(units, u)
	}
	return units, nil
}

// Build renders units against the profile into one self-invoking script. Each
// unit is isolated: an exception in one never stops the next from installing.
func Build(p profile.Profile, units []Unit, opts Options) (*Payload, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts.Binding != "" && !identifierRe.MatchString(opts.Binding) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBinding, opts.Binding)
	}

	binding := "null"
	if opts.Binding != "" {
		binding = jsValue(opts.Binding)
	}

	var b strings.Builder
	fmt.Fprintf(&b, prelude, binding)

	names := make([]string, 0, len(units))
	for _, u := range units {
		body, err := u.Script(p)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", u.Name(), err)
		}
		fmt.Fprintf(&b, "\tinstall(%s, (missing) => {\n%s\n\t});\n", jsValue(u.Name()), indent(body, "\t\t"))
		names = append(names, u.Name())
	}
	b.WriteString("})();\n")

	return &Payload{
		Script:  b.String(),
		Units:   names,
		Binding: opts.Binding,
	}, nil
}

// The binding reference is captured and removed from window before any unit
// runs so page scripts cannot see it.
const prelude = `(() => {
	const report = ((name) => {
		if (!name || typeof window === 'undefined' || typeof window[name] !== 'function') {
			return () => {};
		}
		const bind = window[name];
		try {
			delete window[name];
		} catch (_) {}
		return (unit, kind, err) => {
			try {
				bind(JSON.stringify({ unit, kind, message: String((err && err.message) || err) }));
			} catch (_) {}
		};
	})(%s);
	const install = (unit, body) => {
		try {
			body((what) => report(unit, 'capture', what + ' is not available'));
		} catch (err) {
			report(unit, 'redefine', err);
		}
	};
`

// FailureKind classifies why a unit did not install.
type FailureKind string

const (
	// FailureRedefine means the override threw, typically because the target
	// property is not configurable.
	FailureRedefine FailureKind = "redefine"
	// FailureCapture means the object or original function to wrap is absent.
	FailureCapture FailureKind = "capture"
)

// Failure is one install failure reported by the payload.
type Failure struct {
	Unit    string      `json:"unit"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Unit, f.Kind, f.Message)
}

// DecodeFailure parses a report sent through the diagnostic binding.
func DecodeFailure(raw string) (Failure, error) {
	var f Failure
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Failure{}, fmt.Errorf("decode failure report: %w", err)
	}
	if f.Unit == "" {
		return Failure{}, errors.New("decode failure report: missing unit")
	}
	switch f.Kind {
	case FailureRedefine, FailureCapture:
	default:
		return Failure{}, fmt.Errorf("decode failure report: unknown kind %q", f.Kind)
	}
	return f, nil
}

// jsValue encodes v as a JavaScript literal. JSON output is valid JavaScript,
// and encoding/json escapes U+2028/U+2029 and HTML-sensitive characters.
func jsValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only called with strings, string slices and plain structs.
		panic(fmt.Sprintf("stealth: encode %T: %v", v, err))
	}
	return string(b)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
