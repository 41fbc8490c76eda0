package agent

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/operator/pkg/types"
)

// State is a position in a run's state machine.
type State string

const (
	StateNotStarted        State = "not_started"
	StateSelectingStart    State = "selecting_start"
	StateDeciding          State = "deciding"
	StateExecuting         State = "executing"
	StateAwaitingUserInput State = "awaiting_user_input"
	StateTerminated        State = "terminated"
)

// suspension is one USER_INPUT pause. Its channel is closed exactly once,
// by the first resume or by termination.
type suspension struct {
	message string
	ch      chan struct{}
	once    sync.Once
}

func newSuspension(message string) *suspension {
	return &suspension{message: message, ch: make(chan struct{})}
}

// fire closes the channel and reports whether this call did it.
func (s *suspension) fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

// Run is one execution of a goal against one browser session. Its history
// only grows, and it owns its session until it terminates.
type Run struct {
	ID        string
	Goal      string
	SessionID string
	CreatedAt time.Time

	opts   StartOptions
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	history    types.History
	pending    *suspension
	output     string
	err        error
	finishedAt time.Time
}

func newRun(id, goal, sessionID string, opts StartOptions) *Run {
	return &Run{
		ID:        id,
		Goal:      goal,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		opts:      opts,
		done:      make(chan struct{}),
		state:     StateNotStarted,
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns a copy of the steps recorded so far.
func (r *Run) History() types.History {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(types.History(nil), r.history...)
}

// Err returns the failure that terminated the run, nil while running or after
// a CLOSE.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed once the run has terminated and its session is released.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run terminates or ctx ends, and returns the run error.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot is a point-in-time copy of a run for callers and the HTTP API.
type Snapshot struct {
	ID         string           `json:"id"`
	Goal       string           `json:"goal"`
	SessionID  string           `json:"sessionId"`
	State      State            `json:"state"`
	History    types.History    `json:"history"`
	Message    string           `json:"message,omitempty"`
	Output     string           `json:"output,omitempty"`
	Error      *types.ErrorBody `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
}

// Snapshot copies the run's observable state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		ID:        r.ID,
		Goal:      r.Goal,
		SessionID: r.SessionID,
		State:     r.state,
		History:   append(types.History{}, r.history...),
		Output:    r.output,
		CreatedAt: r.CreatedAt,
	}
	if r.pending != nil && r.state == StateAwaitingUserInput {
		s.Message = r.pending.message
	}
	if r.err != nil {
		body := types.ToErrorBody(r.err)
		s.Error = &body
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		s.FinishedAt = &t
	}
	return s
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) appendStep(step types.Step) {
	r.mu.Lock()
	r.history = append(r.history, step)
	r.mu.Unlock()
}

func (r *Run) stepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// suspend records a pause and moves the run to AwaitingUserInput.
func (r *Run) suspend(message string) *suspension {
	s := newSuspension(message)
	r.mu.Lock()
	r.pending = s
	r.state = StateAwaitingUserInput
	r.mu.Unlock()
	return s
}

// resume releases the current pause. It reports false when the run is not
// suspended or this pause was already resumed.
func (r *Run) resume() bool {
	r.mu.Lock()
	s := r.pending
	waiting := r.state == StateAwaitingUserInput
	r.mu.Unlock()
	if s == nil || !waiting {
		return false
	}
	return s.fire()
}

func (r *Run) clearSuspension() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
}

func (r *Run) finish(output string, err error) {
	r.mu.Lock()
	r.state = StateTerminated
	r.output = output
	r.err = err
	r.finishedAt = time.Now()
	r.mu.Unlock()
}
