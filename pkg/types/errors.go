package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable category of a run failure.
type ErrorKind string

const (
	KindProvisioning      ErrorKind = "provisioning_failure"
	KindExecution         ErrorKind = "execution_failure"
	KindMalformedDecision ErrorKind = "malformed_decision"
	KindConfiguration     ErrorKind = "configuration_failure"
	KindOracle            ErrorKind = "oracle_failure"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal_failure"
)

// RunError is the structured failure surfaced to callers of a run.
// Detail is safe to show to users; Err keeps the underlying cause for logs.
type RunError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *RunError) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// NewRunError creates a RunError with a detail message and no cause.
func NewRunError(kind ErrorKind, detail string) *RunError {
	return &RunError{Kind: kind, Detail: detail}
}

// WrapRunError attaches a kind and detail to an existing error. An error that
// already carries a kind is returned unchanged so the original category wins.
func WrapRunError(kind ErrorKind, detail string, err error) error {
	if err == nil {
		return nil
	}
	var existing *RunError
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		kind = KindCanceled
	}
	return &RunError{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the kind of a run failure. Errors that are not RunErrors
// are reported as KindInternal, context cancellation as KindCanceled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindInternal
}

// IsKind reports whether err is a RunError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrorBody is the wire form of a failure: a stable kind plus an optional
// human-readable detail. It never carries stack traces.
type ErrorBody struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// ToErrorBody converts any error into its wire form.
func ToErrorBody(err error) ErrorBody {
	var re *RunError
	if errors.As(err, &re) {
		detail := re.Detail
		if detail == "" && re.Err != nil {
			detail = re.Err.Error()
		}
		return ErrorBody{Kind: re.Kind, Detail: detail}
	}
	return ErrorBody{Kind: KindOf(err), Detail: err.Error()}
}
