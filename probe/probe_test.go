package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disguise/profile"
	"disguise/sandbox"
	"disguise/stealth"
)

type fakeEvaluator struct {
	out string
	err error
}

func (f fakeEvaluator) Evaluate(context.Context, string) (string, error) {
	return f.out, f.err
}

func failedNames(r Report) []string {
	var names []string
	for _, c := range r.Failed() {
		names = append(names, c.Name)
	}
	return names
}

func TestRunOnDisguisedPage(t *testing.T) {
	ctx := context.Background()
	h, err := sandbox.New(sandbox.WithNotificationPermission("denied"))
	require.NoError(t, err)

	p, err := stealth.Build(profile.Default(), stealth.DefaultUnits(), stealth.Options{})
	require.NoError(t, err)
	require.NoError(t, h.AddScript(ctx, p.Script))

	report, err := Run(ctx, h, profile.Default())
	require.NoError(t, err)
	assert.True(t, report.OK(), "failed checks: %v", report.Failed())

	fp := report.Fingerprint
	assert.Equal(t, "undefined", fp.Webdriver)
	assert.Equal(t, []string{"en-US", "en", "ko-KR", "ko"}, fp.Languages)
	assert.Equal(t, "Intel Inc.", fp.WebGLVendor)
	assert.Equal(t, "denied", fp.NotificationState)
}

func TestRunOnBarePage(t *testing.T) {
	h, err := sandbox.New()
	require.NoError(t, err)

	report, err := Run(context.Background(), h, profile.Default())
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.ElementsMatch(t, []string{
		"webdriver",
		"languages",
		"plugins",
		"plugin collection surface",
		"plugin item matches index",
		"plugin namedItem miss is null",
		"chrome namespace",
		"webgl vendor",
		"webgl renderer",
		"notification query",
	}, failedNames(report))
	assert.Equal(t, "true", report.Fingerprint.Webdriver)
}

func TestRunPartialPayload(t *testing.T) {
	ctx := context.Background()
	h, err := sandbox.New()
	require.NoError(t, err)

	units, err := stealth.UnitsByName([]string{"identity", "languages"})
	require.NoError(t, err)
	p, err := stealth.Build(profile.Default(), units, stealth.Options{})
	require.NoError(t, err)
	require.NoError(t, h.AddScript(ctx, p.Script))

	report, err := Run(ctx, h, profile.Default())
	require.NoError(t, err)
	assert.NotContains(t, failedNames(report), "webdriver")
	assert.NotContains(t, failedNames(report), "languages")
	assert.Contains(t, failedNames(report), "webgl vendor")
}

func TestReportOnlyInstalledUnits(t *testing.T) {
	ctx := context.Background()
	h, err := sandbox.New()
	require.NoError(t, err)

	names := []string{stealth.UnitIdentity, stealth.UnitLanguages}
	units, err := stealth.UnitsByName(names)
	require.NoError(t, err)
	p, err := stealth.Build(profile.Default(), units, stealth.Options{})
	require.NoError(t, err)
	require.NoError(t, h.AddScript(ctx, p.Script))

	report, err := Run(ctx, h, profile.Default())
	require.NoError(t, err)
	require.False(t, report.OK())

	scoped := report.Only(p.Units)
	assert.True(t, scoped.OK(), "failed checks: %v", scoped.Failed())
	require.Len(t, scoped.Checks, 2)
	assert.Equal(t, "webdriver", scoped.Checks[0].Name)
	assert.Equal(t, "languages", scoped.Checks[1].Name)
	assert.Equal(t, report.Fingerprint, scoped.Fingerprint)

	extra := Report{Checks: []Check{{Name: "clean install", Pass: true}}}
	assert.Len(t, extra.Only(nil).Checks, 1)
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), fakeEvaluator{err: errors.New("target closed")}, profile.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate probe")

	_, err = Run(context.Background(), fakeEvaluator{out: "not json"}, profile.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode probe result")
}

func TestScriptCarriesCodes(t *testing.T) {
	s := Script()
	assert.Contains(t, s, "read(37445)")
	assert.Contains(t, s, "read(37446)")
}
