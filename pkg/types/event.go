package types

import "time"

// RunEventType defines the type of event emitted while a run progresses.
type RunEventType string

const (
	EventTypeRunStarted        RunEventType = "run_started"         // EventTypeRunStarted indicates a run left NotStarted.
	EventTypeStateChanged      RunEventType = "state_changed"       // EventTypeStateChanged indicates a run state machine transition.
	EventTypeStepRecorded      RunEventType = "step_recorded"       // EventTypeStepRecorded indicates a step was appended to the history.
	EventTypeStepResult        RunEventType = "step_result"         // EventTypeStepResult indicates a step executed successfully.
	EventTypeAwaitingUserInput RunEventType = "awaiting_user_input" // EventTypeAwaitingUserInput indicates the run is suspended for a human.
	EventTypeResumed           RunEventType = "resumed"             // EventTypeResumed indicates a suspended run was resumed.
	EventTypeSessionReleased   RunEventType = "session_released"    // EventTypeSessionReleased indicates the run's browser session was released.
	EventTypeRunTerminated     RunEventType = "run_terminated"      // EventTypeRunTerminated indicates the run reached Terminated.
)

// RunEvent represents an event emitted by a run.
type RunEvent struct {
	// Type indicates the kind of event.
	Type RunEventType

	// RunID identifies the run that emitted the event.
	RunID string

	// SessionID identifies the browser session the run uses.
	SessionID string

	// State is the run state after the event (for state changes and termination).
	State string

	// Step is the step the event refers to (for step events).
	Step *Step

	// Result is the outcome payload of an executed step (for step results).
	Result string

	// Message is the human-readable message (for user-input suspensions).
	Message string

	// Error carries the failure that terminated the run, if any.
	Error error

	// Timestamp is when the event was created.
	Timestamp time.Time
}

// EventHandler receives run events. Handlers are called synchronously from
// the run's goroutine and must not block for long.
type EventHandler func(event *RunEvent)

func newRunEvent(t RunEventType, runID, sessionID string) *RunEvent {
	return &RunEvent{
		Type:      t,
		RunID:     runID,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
}

// NewRunStartedEvent creates a run started event.
func NewRunStartedEvent(runID, sessionID string) *RunEvent {
	return newRunEvent(EventTypeRunStarted, runID, sessionID)
}

// NewStateChangedEvent creates a state transition event.
func NewStateChangedEvent(runID, sessionID, state string) *RunEvent {
	e := newRunEvent(EventTypeStateChanged, runID, sessionID)
	e.State = state
	return e
}

// NewStepRecordedEvent creates a step recorded event.
func NewStepRecordedEvent(runID, sessionID string, step Step) *RunEvent {
	e := newRunEvent(EventTypeStepRecorded, runID, sessionID)
	e.Step = &step
	return e
}

// NewStepResultEvent creates a step result event.
func NewStepResultEvent(runID, sessionID string, step Step, result string) *RunEvent {
	e := newRunEvent(EventTypeStepResult, runID, sessionID)
	e.Step = &step
	e.Result = result
	return e
}

// NewAwaitingUserInputEvent creates a suspension event carrying the message
// the surrounding system should show to the human.
func NewAwaitingUserInputEvent(runID, sessionID, message string) *RunEvent {
	e := newRunEvent(EventTypeAwaitingUserInput, runID, sessionID)
	e.Message = message
	return e
}

// NewResumedEvent creates a resumed event.
func NewResumedEvent(runID, sessionID string) *RunEvent {
	return newRunEvent(EventTypeResumed, runID, sessionID)
}

// NewSessionReleasedEvent creates a session released event.
func NewSessionReleasedEvent(runID, sessionID string) *RunEvent {
	return newRunEvent(EventTypeSessionReleased, runID, sessionID)
}

// NewRunTerminatedEvent creates a termination event. err is nil on success.
func NewRunTerminatedEvent(runID, sessionID string, err error) *RunEvent {
	e := newRunEvent(EventTypeRunTerminated, runID, sessionID)
	e.State = "terminated"
	e.Error = err
	return e
}

// IsTerminal reports whether the event is the last one a run emits.
func (e *RunEvent) IsTerminal() bool {
	return e.Type == EventTypeRunTerminated
}
