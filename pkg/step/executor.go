// Package step applies one decided tool to a session's browser.
package step

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/operator/pkg/browser"
	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/session"
	"github.com/entrhq/operator/pkg/tracing"
	"github.com/entrhq/operator/pkg/types"
)

// DefaultUserInputMessage is shown when a USER_INPUT step has no instruction.
const DefaultUserInputMessage = "This step needs manual handling. Complete it in the browser, then resume."

// DefaultMaxWait caps a single WAIT step.
const DefaultMaxWait = 5 * time.Minute

// Sessions is the registry surface the executor uses. The executor never
// provisions: a session must have been acquired by whoever started the run.
type Sessions interface {
	Get(id string) (*session.Handle, bool)
	Release(ctx context.Context, id string)
}

var _ Sessions = (*session.Registry)(nil)

// Result is the outcome of one executed tool.
type Result struct {
	Tool types.Tool `json:"tool"`

	// Output is the tool's payload: extraction data, observed elements, a
	// confirmation, or the user-facing message of a USER_INPUT step.
	Output string `json:"output"`

	// Image is set by SCREENSHOT.
	Image []byte `json:"-"`

	// Terminal is set by CLOSE: the session is gone and the run is over.
	Terminal bool `json:"isTerminal"`

	// AwaitingInput is set by USER_INPUT: the run must pause for a human.
	AwaitingInput bool `json:"awaitingInput,omitempty"`
}

// Executor runs tools against sessions held by the registry.
type Executor struct {
	sessions        Sessions
	maxWait         time.Duration
	navigateTimeout time.Duration
	sleep           func(time.Duration)
	logger          *logging.Logger
	metrics         *metrics.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxWait caps WAIT durations.
func WithMaxWait(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.maxWait = d
		}
	}
}

// WithNavigateTimeout bounds GOTO.
func WithNavigateTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.navigateTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithMetrics records step metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor over sessions.
func NewExecutor(sessions Sessions, opts ...Option) *Executor {
	e := &Executor{
		sessions:        sessions,
		maxWait:         DefaultMaxWait,
		navigateTimeout: browser.DefaultNavigateTimeout,
		sleep:           time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNopLogger("step")
	}
	return e
}

// Execute applies tool to the session. A browser failure during GOTO, ACT,
// EXTRACT, OBSERVE or NAVBACK releases the session before the
// execution_failure is returned; nothing is retried.
func (e *Executor) Execute(ctx context.Context, sessionID string, tool types.Tool, instruction string) (res *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "execute",
		tracing.AttrSessionID.String(sessionID),
		tracing.AttrTool.String(tool.String()),
	)
	start := time.Now()
	defer func() {
		e.metrics.ObserveStep(tool.String(), time.Since(start), err)
		tracing.End(span, err)
	}()

	switch tool {
	case types.ToolUserInput:
		msg := strings.TrimSpace(instruction)
		if msg == "" {
			msg = DefaultUserInputMessage
		}
		return &Result{Tool: tool, Output: msg, AwaitingInput: true}, nil

	case types.ToolWait:
		return e.wait(tool, instruction)

	case types.ToolClose:
		e.sessions.Release(ctx, sessionID)
		return &Result{Tool: tool, Output: "Session closed", Terminal: true}, nil

	case types.ToolScreenshot:
		page, err := e.page(sessionID)
		if err != nil {
			return nil, err
		}
		img, err := page.Screenshot(ctx)
		if err != nil {
			return nil, types.WrapRunError(types.KindExecution, "SCREENSHOT failed", err)
		}
		return &Result{Tool: tool, Image: img}, nil

	case types.ToolGoto, types.ToolAct, types.ToolExtract, types.ToolObserve, types.ToolNavBack:
		page, err := e.page(sessionID)
		if err != nil {
			return nil, err
		}
		out, err := e.browse(ctx, page, tool, instruction)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("session_id", sessionID).
				Str("tool", tool.String()).
				Msg("Browser step failed, releasing session")
			e.sessions.Release(ctx, sessionID)
			return nil, types.WrapRunError(types.KindExecution, tool.String()+" failed", err)
		}
		return &Result{Tool: tool, Output: out}, nil

	default:
		return nil, types.NewRunError(types.KindMalformedDecision, fmt.Sprintf("unrecognized tool %q", tool))
	}
}

func (e *Executor) page(sessionID string) (browser.Page, error) {
	h, ok := e.sessions.Get(sessionID)
	if !ok {
		return nil, types.NewRunError(types.KindExecution, fmt.Sprintf("session %s is not active", sessionID))
	}
	return h.Page(), nil
}

func (e *Executor) browse(ctx context.Context, page browser.Page, tool types.Tool, instruction string) (string, error) {
	switch tool {
	case types.ToolGoto:
		if err := page.Navigate(ctx, instruction, browser.NavigateOptions{
			WaitUntil: browser.WaitUntilCommit,
			Timeout:   e.navigateTimeout,
		}); err != nil {
			return "", err
		}
		return "Navigated to " + page.URL(), nil

	case types.ToolAct:
		return page.Act(ctx, instruction)

	case types.ToolExtract:
		return page.Extract(ctx, instruction)

	case types.ToolObserve:
		elements, err := page.Observe(ctx, browser.ObserveOptions{
			Instruction:          instruction,
			UseAccessibilityTree: true,
		})
		if err != nil {
			return "", err
		}
		return browser.FormatElements(elements)

	case types.ToolNavBack:
		if err := page.GoBack(ctx); err != nil {
			return "", err
		}
		return "Went back to " + page.URL(), nil
	}
	return "", fmt.Errorf("tool %s does not drive the browser", tool)
}

// wait sleeps for the instructed milliseconds, clamped to maxWait. It is not
// cancellable once started.
func (e *Executor) wait(tool types.Tool, instruction string) (*Result, error) {
	d, err := ParseWait(instruction)
	if err != nil {
		return nil, types.WrapRunError(types.KindExecution, "WAIT", err)
	}
	if d > e.maxWait {
		e.logger.Warnf("WAIT of %s clamped to %s", d, e.maxWait)
		d = e.maxWait
	}
	e.sleep(d)
	return &Result{Tool: tool, Output: fmt.Sprintf("Waited %d ms", d.Milliseconds())}, nil
}

// ParseWait reads a WAIT instruction: a non-negative number of milliseconds,
// optionally suffixed with "ms".
func ParseWait(instruction string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(instruction))
	s = strings.TrimSpace(strings.TrimSuffix(s, "ms"))
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid wait duration %q: expected milliseconds", instruction)
	}
	if math.IsNaN(ms) || ms < 0 {
		return 0, fmt.Errorf("invalid wait duration %q: must not be negative", instruction)
	}
	if ms >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
