package types

import (
	"fmt"
	"strings"
)

// Tool identifies the kind of browser action a Step performs.
type Tool int

const (
	// ToolUnknown is the zero value and never appears in a recorded Step.
	ToolUnknown Tool = iota
	ToolGoto
	ToolAct
	ToolExtract
	ToolObserve
	ToolWait
	ToolNavBack
	ToolClose
	ToolUserInput

	// ToolScreenshot is internal-only. It is never offered to the decision
	// engine and never recorded in a run's history.
	ToolScreenshot
)

var toolNames = map[Tool]string{
	ToolGoto:       "GOTO",
	ToolAct:        "ACT",
	ToolExtract:    "EXTRACT",
	ToolObserve:    "OBSERVE",
	ToolWait:       "WAIT",
	ToolNavBack:    "NAVBACK",
	ToolClose:      "CLOSE",
	ToolUserInput:  "USER_INPUT",
	ToolScreenshot: "SCREENSHOT",
}

// String returns the wire name of the tool (e.g. "GOTO").
func (t Tool) String() string {
	if name, ok := toolNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler so tools serialize by name.
func (t Tool) MarshalText() ([]byte, error) {
	if t == ToolUnknown {
		return nil, fmt.Errorf("cannot marshal unknown tool")
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tool) UnmarshalText(text []byte) error {
	parsed, err := ParseTool(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTool resolves a tool name as produced by the decision engine.
// Matching ignores case and surrounding whitespace. SCREENSHOT is rejected
// because it is not part of the decision vocabulary.
func ParseTool(name string) (Tool, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "GOTO":
		return ToolGoto, nil
	case "ACT":
		return ToolAct, nil
	case "EXTRACT":
		return ToolExtract, nil
	case "OBSERVE":
		return ToolObserve, nil
	case "WAIT":
		return ToolWait, nil
	case "NAVBACK":
		return ToolNavBack, nil
	case "CLOSE":
		return ToolClose, nil
	case "USER_INPUT":
		return ToolUserInput, nil
	default:
		return ToolUnknown, fmt.Errorf("unrecognized tool %q", name)
	}
}

// DecisionTools lists the tools the decision engine may choose from, in the
// order they are presented in prompts.
func DecisionTools() []Tool {
	return []Tool{ToolGoto, ToolAct, ToolExtract, ToolObserve, ToolWait, ToolNavBack, ToolClose, ToolUserInput}
}

// IsTerminal reports whether executing the tool ends the run.
func (t Tool) IsTerminal() bool {
	return t == ToolClose
}

// TouchesBrowser reports whether the tool drives the browser capability.
func (t Tool) TouchesBrowser() bool {
	switch t {
	case ToolGoto, ToolAct, ToolExtract, ToolObserve, ToolNavBack, ToolScreenshot:
		return true
	default:
		return false
	}
}

// RequiresInstruction reports whether a decision for this tool is malformed
// without an instruction.
func (t Tool) RequiresInstruction() bool {
	switch t {
	case ToolGoto, ToolAct, ToolWait:
		return true
	default:
		return false
	}
}

// Step is one recorded decision in a run's history.
type Step struct {
	Text        string `json:"text"`
	Reasoning   string `json:"reasoning"`
	Tool        Tool   `json:"tool"`
	Instruction string `json:"instruction"`
	StepNumber  int    `json:"stepNumber"`
}

// Validate checks the step is well formed enough to execute.
func (s *Step) Validate() error {
	if s == nil {
		return fmt.Errorf("step is nil")
	}
	switch s.Tool {
	case ToolGoto, ToolAct, ToolExtract, ToolObserve, ToolWait, ToolNavBack, ToolClose, ToolUserInput:
	default:
		return fmt.Errorf("unrecognized tool %q", s.Tool)
	}
	if s.Tool.RequiresInstruction() && strings.TrimSpace(s.Instruction) == "" {
		return fmt.Errorf("tool %s requires an instruction", s.Tool)
	}
	return nil
}

// History is the ordered, append-only sequence of steps of one run.
type History []Step

// HasNavigated reports whether any GOTO step has been recorded.
func (h History) HasNavigated() bool {
	for _, s := range h {
		if s.Tool == ToolGoto {
			return true
		}
	}
	return false
}

// NextNumber returns the step number the next appended step receives.
func (h History) NextNumber() int {
	if last := h.Last(); last != nil {
		return last.StepNumber + 1
	}
	return 1
}

// Last returns the most recent step, or nil when the history is empty.
func (h History) Last() *Step {
	if len(h) == 0 {
		return nil
	}
	return &h[len(h)-1]
}
