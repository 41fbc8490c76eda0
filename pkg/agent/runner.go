package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/tracing"
	"github.com/entrhq/operator/pkg/types"
)

// DefaultMaxSteps bounds a run's history.
const DefaultMaxSteps = 50

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")

	// ErrNotAwaiting is returned when resuming a run that is not suspended.
	ErrNotAwaiting = errors.New("run is not awaiting user input")

	// ErrSessionBusy is returned when a live run already owns the session.
	ErrSessionBusy = errors.New("session is owned by another run")
)

// LaunchRequest describes a new run.
type LaunchRequest struct {
	Goal string `json:"goal"`

	// SessionID names the browser session. Empty generates one.
	SessionID string `json:"sessionId,omitempty"`

	StartOptions
}

// Runner owns runs from launch to termination.
type Runner struct {
	controller *Controller
	maxSteps   int
	handler    types.EventHandler
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu   sync.RWMutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxSteps bounds the number of steps per run.
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithEventHandler receives every run event.
func WithEventHandler(h types.EventHandler) RunnerOption {
	return func(r *Runner) {
		r.handler = h
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a runner over controller.
func NewRunner(controller *Controller, opts ...RunnerOption) *Runner {
	r := &Runner{
		controller: controller,
		maxSteps:   DefaultMaxSteps,
		runs:       make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NewNopLogger("runner")
	}
	return r
}

// Launch starts a run in the background and returns it immediately. The run
// outlives ctx; cancel it with Cancel.
func (r *Runner) Launch(ctx context.Context, req LaunchRequest) (*Run, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, types.NewRunError(types.KindConfiguration, "goal is required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	runID := uuid.New().String()
	if owner, ok := r.controller.claim(sessionID, runID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, owner)
	}

	r.mu.Lock()
	run := newRun(runID, goal, sessionID, req.StartOptions)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run.cancel = cancel
	r.runs[run.ID] = run
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.RunStarted()
	r.emit(types.NewRunStartedEvent(run.ID, run.SessionID))

	go func() {
		defer r.wg.Done()
		defer cancel()
		r.drive(runCtx, run)
	}()
	return run, nil
}

// Get returns a run by id.
func (r *Runner) Get(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// List returns snapshots of all known runs, oldest first.
func (r *Runner) List() []Snapshot {
	r.mu.RLock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	out := make([]Snapshot, len(runs))
	for i, run := range runs {
		out[i] = run.Snapshot()
	}
	return out
}

// Resume continues a run suspended on USER_INPUT. Each suspension resumes at
// most once.
func (r *Runner) Resume(id string) error {
	run, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if !run.resume() {
		return fmt.Errorf("%w: %s is %s", ErrNotAwaiting, id, run.State())
	}
	return nil
}

// Cancel stops a run and waits until its session is released or ctx ends.
// Canceling a terminated run is a no-op.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	run, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	run.cancel()
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers a control input to a run.
func (r *Runner) Send(ctx context.Context, id string, input *types.Input) error {
	switch {
	case input == nil:
		return fmt.Errorf("input is nil")
	case input.IsResume():
		if input.Note != "" {
			r.logger.Info().Str("run_id", id).Str("note", input.Note).Msg("Resume note")
		}
		return r.Resume(id)
	case input.IsCancel():
		return r.Cancel(ctx, id)
	default:
		return fmt.Errorf("unsupported input type %q", input.Type)
	}
}

// Shutdown cancels every live run and waits for all of them to release their
// sessions.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, run := range r.runs {
		run.cancel()
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive runs the state machine until termination.
func (r *Runner) drive(ctx context.Context, run *Run) {
	ctx, span := tracing.StartSpan(ctx, "run",
		tracing.AttrRunID.String(run.ID),
		tracing.AttrSessionID.String(run.SessionID),
	)
	logger := r.logger.With("run_id", run.ID)

	output, err := r.loop(ctx, run, logger)
	if err != nil {
		span.SetAttributes(tracing.AttrErrorKind.String(string(types.KindOf(err))))
	}

	r.controller.release(context.WithoutCancel(ctx), run.SessionID)
	r.controller.unclaim(run.SessionID)
	r.emit(types.NewSessionReleasedEvent(run.ID, run.SessionID))

	run.finish(output, err)
	close(run.done)
	tracing.End(span, err)

	outcome := "completed"
	if err != nil {
		outcome = string(types.KindOf(err))
		logger.Warn().Err(err).Str("kind", outcome).Msg("Run failed")
	} else {
		logger.Info().Int("steps", run.stepCount()).Msg("Run completed")
	}
	r.metrics.RunFinished(outcome)
	r.emit(types.NewRunTerminatedEvent(run.ID, run.SessionID, err))
}

func (r *Runner) loop(ctx context.Context, run *Run, logger *logging.Logger) (string, error) {
	r.transition(run, StateSelectingStart)
	first, err := r.controller.start(ctx, run.Goal, run.SessionID, run.opts)
	if err != nil {
		return "", err
	}
	r.record(run, first.Step)
	r.emit(types.NewStepResultEvent(run.ID, run.SessionID, first.Step, first.Result.Output))

	var latest string
	for {
		if err := ctx.Err(); err != nil {
			return "", types.WrapRunError(types.KindCanceled, "run canceled", err)
		}
		if run.stepCount() >= r.maxSteps {
			return "", types.NewRunError(types.KindExecution, fmt.Sprintf("step limit reached (%d)", r.maxSteps))
		}

		r.transition(run, StateDeciding)
		dec, err := r.controller.next(ctx, run.Goal, run.SessionID, run.History(), latest)
		if err != nil {
			return "", err
		}
		r.record(run, dec.Step)
		logger.Debug().
			Int("step", dec.Step.StepNumber).
			Str("tool", dec.Step.Tool.String()).
			Msg(dec.Step.Text)

		// CLOSE skips Executing: applying it only releases the session.
		if !dec.IsTerminal {
			r.transition(run, StateExecuting)
		}
		applied, err := r.controller.apply(ctx, run.SessionID, dec.Step)
		if err != nil {
			return "", err
		}
		res := applied.Result
		r.emit(types.NewStepResultEvent(run.ID, run.SessionID, dec.Step, res.Output))

		if applied.IsTerminal {
			return dec.Step.Text, nil
		}

		switch dec.Step.Tool {
		case types.ToolExtract, types.ToolObserve:
			latest = res.Output
		default:
			latest = ""
		}

		if res.AwaitingInput {
			if err := r.await(ctx, run, res.Output); err != nil {
				return "", err
			}
		}
	}
}

// await blocks until the run is resumed or canceled. No decision is made
// while suspended.
func (r *Runner) await(ctx context.Context, run *Run, message string) error {
	s := run.suspend(message)
	r.emit(types.NewStateChangedEvent(run.ID, run.SessionID, string(StateAwaitingUserInput)))
	r.emit(types.NewAwaitingUserInputEvent(run.ID, run.SessionID, message))
	r.metrics.SetWaiting(true)
	defer r.metrics.SetWaiting(false)
	defer run.clearSuspension()

	select {
	case <-s.ch:
		r.emit(types.NewResumedEvent(run.ID, run.SessionID))
		return nil
	case <-ctx.Done():
		s.fire()
		return types.WrapRunError(types.KindCanceled, "canceled while awaiting user input", ctx.Err())
	}
}

func (r *Runner) transition(run *Run, s State) {
	run.setState(s)
	r.emit(types.NewStateChangedEvent(run.ID, run.SessionID, string(s)))
}

func (r *Runner) record(run *Run, s types.Step) {
	run.appendStep(s)
	r.emit(types.NewStepRecordedEvent(run.ID, run.SessionID, s))
}

func (r *Runner) emit(e *types.RunEvent) {
	if r.handler != nil {
		r.handler(e)
	}
}
