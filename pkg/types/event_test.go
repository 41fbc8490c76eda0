package types

import (
	"errors"
	"testing"
)

func TestRunEventType(t *testing.T) {
	tests := []struct {
		name      string
		eventType RunEventType
		expected  string
	}{
		{name: "run_started", eventType: EventTypeRunStarted, expected: "run_started"},
		{name: "state_changed", eventType: EventTypeStateChanged, expected: "state_changed"},
		{name: "step_recorded", eventType: EventTypeStepRecorded, expected: "step_recorded"},
		{name: "step_result", eventType: EventTypeStepResult, expected: "step_result"},
		{name: "awaiting_user_input", eventType: EventTypeAwaitingUserInput, expected: "awaiting_user_input"},
		{name: "resumed", eventType: EventTypeResumed, expected: "resumed"},
		{name: "session_released", eventType: EventTypeSessionReleased, expected: "session_released"},
		{name: "run_terminated", eventType: EventTypeRunTerminated, expected: "run_terminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.eventType) != tt.expected {
				t.Errorf("got %q, want %q", tt.eventType, tt.expected)
			}
		})
	}
}

func TestNewStepRecordedEventCopiesStep(t *testing.T) {
	step := Step{Tool: ToolExtract, Instruction: "price", StepNumber: 2}
	event := NewStepRecordedEvent("run-1", "sess-1", step)

	step.Instruction = "mutated"

	if event.Step.Instruction != "price" {
		t.Errorf("event step was aliased: %q", event.Step.Instruction)
	}
	if event.RunID != "run-1" || event.SessionID != "sess-1" {
		t.Errorf("unexpected identifiers: %q %q", event.RunID, event.SessionID)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestNewAwaitingUserInputEvent(t *testing.T) {
	event := NewAwaitingUserInputEvent("run-1", "sess-1", "solve the captcha")
	if event.Type != EventTypeAwaitingUserInput {
		t.Errorf("unexpected type %q", event.Type)
	}
	if event.Message != "solve the captcha" {
		t.Errorf("unexpected message %q", event.Message)
	}
	if event.IsTerminal() {
		t.Error("suspension must not be terminal")
	}
}

func TestNewRunTerminatedEvent(t *testing.T) {
	failure := errors.New("boom")
	event := NewRunTerminatedEvent("run-1", "sess-1", failure)
	if !event.IsTerminal() {
		t.Error("expected terminal event")
	}
	if !errors.Is(event.Error, failure) {
		t.Errorf("unexpected error %v", event.Error)
	}
}
