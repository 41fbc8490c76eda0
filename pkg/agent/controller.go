// Package agent drives browsing runs: it picks a start page, asks the
// decision engine for one step at a time, executes each step against the
// run's browser session and suspends on USER_INPUT until a human resumes.
//
// Controller is the stepwise surface (start, next, apply) a caller can drive
// itself; Runner owns full runs and their state machine.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/entrhq/operator/pkg/decision"
	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/session"
	"github.com/entrhq/operator/pkg/step"
	"github.com/entrhq/operator/pkg/tracing"
	"github.com/entrhq/operator/pkg/types"
)

// Sessions is the registry surface the controller needs.
type Sessions interface {
	Acquire(ctx context.Context, id string, opts session.AcquireOptions) (*session.Handle, error)
	Release(ctx context.Context, id string)
}

// Executor applies one tool to a session.
type Executor interface {
	Execute(ctx context.Context, sessionID string, tool types.Tool, instruction string) (*step.Result, error)
}

var (
	_ Sessions = (*session.Registry)(nil)
	_ Executor = (*step.Executor)(nil)
)

// StartOptions tune how a run's session is provisioned.
type StartOptions struct {
	// Timezone picks the provisioning region. Empty uses the default region.
	Timezone string `json:"timezone,omitempty"`

	// ContextID reuses a persisted browser context.
	ContextID string `json:"contextId,omitempty"`
}

// Decision is the outcome of Next.
type Decision struct {
	Step       types.Step `json:"step"`
	IsTerminal bool       `json:"isTerminal"`
}

// Applied is the outcome of Start and Apply.
type Applied struct {
	Step       types.Step   `json:"step"`
	Result     *step.Result `json:"result"`
	IsTerminal bool         `json:"isTerminal"`
}

// Controller wires the decision engine, executor and session registry.
// Every fatal error it returns has already released the session.
//
// Sessions owned by a Runner run are closed to the exported stepwise methods,
// which fail with ErrSessionBusy until the run terminates.
type Controller struct {
	engine   decision.Engine
	executor Executor
	sessions Sessions
	logger   *logging.Logger

	mu     sync.Mutex
	owners map[string]string // session id -> run id
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the controller logger.
func WithControllerLogger(l *logging.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a controller.
func NewController(engine decision.Engine, executor Executor, sessions Sessions, opts ...ControllerOption) *Controller {
	c := &Controller{
		engine:   engine,
		executor: executor,
		sessions: sessions,
		owners:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger("agent")
	}
	return c
}

// Start provisions the session, asks the engine for a start page and
// navigates there. The returned step is the run's step 1.
func (c *Controller) Start(ctx context.Context, goal, sessionID string, opts StartOptions) (*Applied, error) {
	if err := c.checkUnowned(sessionID); err != nil {
		return nil, err
	}
	return c.start(ctx, goal, sessionID, opts)
}

// Next asks the engine for the step after history. A screenshot of the page
// goes along once the run has navigated; failing to take one is not fatal.
func (c *Controller) Next(ctx context.Context, goal, sessionID string, history types.History, latest string) (*Decision, error) {
	if err := c.checkUnowned(sessionID); err != nil {
		return nil, err
	}
	return c.next(ctx, goal, sessionID, history, latest)
}

// Apply executes a decided step. CLOSE releases the session and reports a
// terminal result.
func (c *Controller) Apply(ctx context.Context, sessionID string, s types.Step) (*Applied, error) {
	if err := c.checkUnowned(sessionID); err != nil {
		return nil, err
	}
	return c.apply(ctx, sessionID, s)
}

// Release ends the session. It is safe to call for unknown sessions.
func (c *Controller) Release(ctx context.Context, sessionID string) error {
	if err := c.checkUnowned(sessionID); err != nil {
		return err
	}
	c.release(ctx, sessionID)
	return nil
}

// claim reserves sessionID for runID. It reports the current owner when the
// session is already claimed.
func (c *Controller) claim(sessionID, runID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.owners[sessionID]; ok {
		return owner, false
	}
	c.owners[sessionID] = runID
	return runID, true
}

func (c *Controller) unclaim(sessionID string) {
	c.mu.Lock()
	delete(c.owners, sessionID)
	c.mu.Unlock()
}

func (c *Controller) checkUnowned(sessionID string) error {
	c.mu.Lock()
	owner, ok := c.owners[sessionID]
	c.mu.Unlock()
	if ok {
		return fmt.Errorf("%w: %s", ErrSessionBusy, owner)
	}
	return nil
}

func (c *Controller) start(ctx context.Context, goal, sessionID string, opts StartOptions) (*Applied, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, types.NewRunError(types.KindConfiguration, "goal is required")
	}

	start, err := c.engine.SelectStart(ctx, goal)
	if err != nil {
		return nil, c.fail(ctx, sessionID, types.WrapRunError(types.KindOracle, "start selection failed", err))
	}

	if _, err := c.sessions.Acquire(ctx, sessionID, session.AcquireOptions{
		Timezone:  opts.Timezone,
		ContextID: opts.ContextID,
	}); err != nil {
		return nil, c.fail(ctx, sessionID, types.WrapRunError(types.KindProvisioning, "session unavailable", err))
	}

	first := decision.StartStep(start)
	res, err := c.executor.Execute(ctx, sessionID, first.Tool, first.Instruction)
	if err != nil {
		return nil, c.fail(ctx, sessionID, err)
	}

	c.logger.Info().
		Str("session_id", sessionID).
		Str("url", start.URL).
		Msg("Run started")

	return &Applied{Step: first, Result: res}, nil
}

func (c *Controller) next(ctx context.Context, goal, sessionID string, history types.History, latest string) (dec *Decision, err error) {
	ctx, span := tracing.StartSpan(ctx, "decide",
		tracing.AttrSessionID.String(sessionID),
		tracing.AttrStep.Int(history.NextNumber()),
	)
	defer func() { tracing.End(span, err) }()

	req := decision.Request{
		Goal:    goal,
		History: history,
		Latest:  latest,
	}
	if history.HasNavigated() {
		shot, err := c.executor.Execute(ctx, sessionID, types.ToolScreenshot, "")
		if err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Screenshot failed, deciding without it")
		} else {
			req.Screenshot = shot.Image
		}
	}

	s, err := c.engine.Decide(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, sessionID, types.WrapRunError(types.KindOracle, "decision failed", err))
	}
	if err := s.Validate(); err != nil {
		return nil, c.fail(ctx, sessionID, types.WrapRunError(types.KindMalformedDecision, "invalid step", err))
	}
	s.StepNumber = history.NextNumber()

	return &Decision{Step: *s, IsTerminal: s.Tool.IsTerminal()}, nil
}

func (c *Controller) apply(ctx context.Context, sessionID string, s types.Step) (*Applied, error) {
	if err := s.Validate(); err != nil {
		return nil, c.fail(ctx, sessionID, types.WrapRunError(types.KindMalformedDecision, "invalid step", err))
	}
	res, err := c.executor.Execute(ctx, sessionID, s.Tool, s.Instruction)
	if err != nil {
		return nil, c.fail(ctx, sessionID, err)
	}
	return &Applied{Step: s, Result: res, IsTerminal: res.Terminal}, nil
}

func (c *Controller) release(ctx context.Context, sessionID string) {
	c.sessions.Release(ctx, sessionID)
}

func (c *Controller) fail(ctx context.Context, sessionID string, err error) error {
	c.logger.Warn().Err(err).
		Str("session_id", sessionID).
		Str("kind", string(types.KindOf(err))).
		Msg("Step failed, releasing session")
	c.sessions.Release(context.WithoutCancel(ctx), sessionID)
	if types.KindOf(err) == types.KindInternal {
		return types.WrapRunError(types.KindInternal, fmt.Sprintf("session %s", sessionID), err)
	}
	return err
}
