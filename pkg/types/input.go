package types

// InputType defines the type of control input the surrounding system sends to a run.
type InputType string

const (
	InputTypeCancel InputType = "cancel" // InputTypeCancel discards the run and releases its session.
	InputTypeResume InputType = "resume" // InputTypeResume continues a run suspended on USER_INPUT.
)

// Input is a control signal delivered to a running run.
type Input struct {
	// Metadata holds optional additional information about the input.
	Metadata map[string]interface{}

	// Note is an optional human remark attached to a resume, logged with the run.
	Note string

	// Type indicates the kind of input.
	Type InputType
}

// NewCancelInput creates a new cancellation input.
func NewCancelInput() *Input {
	return &Input{
		Type:     InputTypeCancel,
		Metadata: make(map[string]interface{}),
	}
}

// NewResumeInput creates a resume input with an optional note.
func NewResumeInput(note string) *Input {
	return &Input{
		Type:     InputTypeResume,
		Note:     note,
		Metadata: make(map[string]interface{}),
	}
}

// WithMetadata adds metadata to the input and returns the input for chaining.
func (i *Input) WithMetadata(key string, value interface{}) *Input {
	if i.Metadata == nil {
		i.Metadata = make(map[string]interface{})
	}
	i.Metadata[key] = value
	return i
}

// IsCancel returns true if this is a cancellation input.
func (i *Input) IsCancel() bool {
	return i.Type == InputTypeCancel
}

// IsResume returns true if this is a resume input.
func (i *Input) IsResume() bool {
	return i.Type == InputTypeResume
}
