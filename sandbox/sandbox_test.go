package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapLooksAutomated(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	v, err := h.Run(`navigator.webdriver`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())

	v, err = h.Run(`navigator.plugins.length`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v.ToInteger())

	v, err = h.Run(`typeof window.chrome`)
	require.NoError(t, err)
	assert.Equal(t, "undefined", v.String())

	v, err = h.Run(`Notification.permission`)
	require.NoError(t, err)
	assert.Equal(t, "default", v.String())
}

func TestOptions(t *testing.T) {
	h, err := New(
		WithChrome(),
		WithNotificationPermission("denied"),
		WithoutPermissions(),
		WithoutWebGL(),
		WithWebGL2(),
	)
	require.NoError(t, err)

	v, err := h.Run(`[typeof chrome, Notification.permission, typeof navigator.permissions,
		typeof WebGLRenderingContext, typeof WebGL2RenderingContext].join(',')`)
	require.NoError(t, err)
	assert.Equal(t, "object,denied,undefined,undefined,function", v.String())
}

func TestLockedWebdriverRejectsRedefinition(t *testing.T) {
	h, err := New(WithLockedWebdriver())
	require.NoError(t, err)

	err = h.AddScript(context.Background(), `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "javascript exception")
}

func TestOriginalStubsRecordCalls(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	v, err := h.Run(`const gl = new WebGLRenderingContext(); gl.label = 'gl'; gl.getParameter(7937)`)
	require.NoError(t, err)
	assert.Equal(t, "gl#7937", v.String())
	assert.Equal(t, []int64{7937}, h.ParameterCalls())

	v, err = h.Run(`navigator.permissions.query({ name: 'geolocation' })`)
	require.NoError(t, err)
	assert.Equal(t, "prompt", v.ToObject(nil).Get("state").String())
	assert.Equal(t, []string{"geolocation"}, h.QueryCalls())
	assert.NotNil(t, h.LastQuery())

	_, err = h.Run(`navigator.permissions.query({ name: 'bogus' })`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "promise rejected")
}

func TestBindReceivesPayload(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	var got []string
	require.NoError(t, h.Bind(context.Background(), "__report", func(payload string) {
		got = append(got, payload)
	}))

	require.NoError(t, h.AddScript(context.Background(), `__report('one'); window.__report('two');`))
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestEvaluate(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	out, err := h.Evaluate(ctx, `() => JSON.stringify({ a: 1 })`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out)

	out, err = h.Evaluate(ctx, `() => Promise.resolve('done').then((v) => v + '!')`)
	require.NoError(t, err)
	assert.Equal(t, "done!", out)

	out, err = h.Evaluate(ctx, `() => undefined`)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = h.Evaluate(ctx, `() => new Promise(() => {})`)
	assert.ErrorIs(t, err, ErrPending)

	_, err = h.Evaluate(ctx, `() => { throw new Error('boom'); }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEvaluateHonoursContext(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = h.Evaluate(ctx, `() => { for (;;) {} }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	_, err = h.Run(`globalThis.count = 0;`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Run(`count = count + 1; navigator.permissions.query({name: 'geolocation'});`)
			assert.NoError(t, err)
			h.QueryCalls()
		}()
	}
	wg.Wait()

	v, err := h.Run(`count`)
	require.NoError(t, err)
	assert.Equal(t, int64(16), v.ToInteger())
	assert.Len(t, h.QueryCalls(), 16)
}
