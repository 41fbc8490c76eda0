package step

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/operator/pkg/browser"
	"github.com/entrhq/operator/pkg/browser/browsertest"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/session"
	"github.com/entrhq/operator/pkg/types"
)

type fixture struct {
	launcher *browsertest.Launcher
	registry *session.Registry
	executor *Executor
	slept    []time.Duration
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{launcher: &browsertest.Launcher{}}
	f.registry = session.NewRegistry(session.NewLocalFactory(f.launcher))
	f.executor = NewExecutor(f.registry, opts...)
	f.executor.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	return f
}

// page acquires the session and returns its fake page.
func (f *fixture) page(t *testing.T, id string) *browsertest.Page {
	t.Helper()
	h, err := f.registry.Acquire(context.Background(), id, session.AcquireOptions{})
	require.NoError(t, err)
	return h.Page().(*browsertest.Page)
}

func TestExecute_Goto(t *testing.T) {
	f := newFixture(t)
	page := f.page(t, "s1")

	res, err := f.executor.Execute(context.Background(), "s1", types.ToolGoto, "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, "Navigated to https://example.com", res.Output)
	assert.False(t, res.Terminal)
	assert.Equal(t, "https://example.com", page.URL())
	assert.Equal(t, []string{"navigate"}, page.Ops())
}

func TestExecute_BrowserTools(t *testing.T) {
	f := newFixture(t)
	page := f.page(t, "s1")
	page.ActResult = "clicked Go"
	page.ExtractResult = "$42"
	page.Elements = []browser.Element{{Index: 1, Role: "button", Name: "Go"}}

	ctx := context.Background()
	_, err := f.executor.Execute(ctx, "s1", types.ToolGoto, "https://a.example")
	require.NoError(t, err)
	_, err = f.executor.Execute(ctx, "s1", types.ToolGoto, "https://b.example")
	require.NoError(t, err)

	res, err := f.executor.Execute(ctx, "s1", types.ToolAct, "click Go")
	require.NoError(t, err)
	assert.Equal(t, "clicked Go", res.Output)

	res, err = f.executor.Execute(ctx, "s1", types.ToolExtract, "the price")
	require.NoError(t, err)
	assert.Equal(t, "$42", res.Output)

	res, err = f.executor.Execute(ctx, "s1", types.ToolObserve, "buttons")
	require.NoError(t, err)
	var elements []browser.Element
	require.NoError(t, json.Unmarshal([]byte(res.Output), &elements))
	assert.Equal(t, "Go", elements[0].Name)

	res, err = f.executor.Execute(ctx, "s1", types.ToolNavBack, "")
	require.NoError(t, err)
	assert.Equal(t, "Went back to https://a.example", res.Output)

	res, err = f.executor.Execute(ctx, "s1", types.ToolScreenshot, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Image)

	calls := page.Calls()
	assert.Equal(t, browsertest.Call{Op: "observe", Argument: "buttons"}, calls[4])
}

func TestExecute_FailureReleasesSession(t *testing.T) {
	tools := []types.Tool{types.ToolGoto, types.ToolAct, types.ToolExtract, types.ToolObserve, types.ToolNavBack}

	for _, tool := range tools {
		t.Run(tool.String(), func(t *testing.T) {
			m := metrics.New()
			f := newFixture(t, WithMetrics(m))
			page := f.page(t, "s1")
			boom := errors.New("target closed")
			page.NavigateErr = boom
			page.ActErr = boom
			page.ExtractErr = boom
			page.ObserveErr = boom
			page.GoBackErr = boom

			_, err := f.executor.Execute(context.Background(), "s1", tool, "x")
			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindExecution))
			assert.ErrorIs(t, err, boom)

			assert.Equal(t, 1, page.Closes())
			assert.Equal(t, 0, f.registry.Len())
		})
	}
}

func TestExecute_ScreenshotFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	page := f.page(t, "s1")
	page.ScreenshotErr = errors.New("capture failed")

	_, err := f.executor.Execute(context.Background(), "s1", types.ToolScreenshot, "")
	require.Error(t, err)
	assert.Equal(t, 0, page.Closes())
	assert.Equal(t, 1, f.registry.Len())
}

func TestExecute_UserInputDoesNotTouchBrowser(t *testing.T) {
	f := newFixture(t)

	res, err := f.executor.Execute(context.Background(), "s1", types.ToolUserInput, "Solve the CAPTCHA")
	require.NoError(t, err)
	assert.True(t, res.AwaitingInput)
	assert.Equal(t, "Solve the CAPTCHA", res.Output)

	res, err = f.executor.Execute(context.Background(), "s1", types.ToolUserInput, "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultUserInputMessage, res.Output)

	assert.Empty(t, f.launcher.Pages())
}

func TestExecute_Close(t *testing.T) {
	f := newFixture(t)
	page := f.page(t, "s1")

	res, err := f.executor.Execute(context.Background(), "s1", types.ToolClose, "")
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Equal(t, 1, page.Closes())
	assert.Equal(t, 0, f.registry.Len())

	// Closing again is harmless.
	_, err = f.executor.Execute(context.Background(), "s1", types.ToolClose, "")
	require.NoError(t, err)
	assert.Equal(t, 1, page.Closes())
}

func TestExecute_Wait(t *testing.T) {
	f := newFixture(t, WithMaxWait(2*time.Second))

	res, err := f.executor.Execute(context.Background(), "s1", types.ToolWait, "1500")
	require.NoError(t, err)
	assert.Equal(t, "Waited 1500 ms", res.Output)

	_, err = f.executor.Execute(context.Background(), "s1", types.ToolWait, "60000")
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 2 * time.Second}, f.slept)
	assert.Empty(t, f.launcher.Pages())
}

func TestExecute_WaitIgnoresCancellation(t *testing.T) {
	f := newFixture(t)
	f.executor.sleep = time.Sleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := f.executor.Execute(ctx, "s1", types.ToolWait, "30")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestExecute_WaitInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Execute(context.Background(), "s1", types.ToolWait, "soon")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindExecution))
}

func TestExecute_UnknownTool(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Execute(context.Background(), "s1", types.ToolUnknown, "")
	assert.True(t, types.IsKind(err, types.KindMalformedDecision))
}

func TestExecute_InactiveSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.Execute(context.Background(), "missing", types.ToolGoto, "https://example.com")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindExecution))
	assert.Empty(t, f.launcher.Pages(), "executor must not provision")
}

func TestParseWait(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1000", want: time.Second},
		{in: " 250ms ", want: 250 * time.Millisecond},
		{in: "1.5", want: 1500 * time.Microsecond},
		{in: "0", want: 0},
		{in: "1e30", want: time.Duration(1<<63 - 1)},
		{in: "-5", wantErr: true},
		{in: "", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "two seconds", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWait(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
