package browser

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/entrhq/operator/pkg/llm"
	"github.com/entrhq/operator/pkg/llm/tokenizer"
	"github.com/entrhq/operator/pkg/types"
)

// Interaction methods an Action may use.
const (
	MethodClick   = "click"
	MethodFill    = "fill"
	MethodPress   = "press"
	MethodHover   = "hover"
	MethodCheck   = "check"
	MethodUncheck = "uncheck"
	MethodSelect  = "select"
	MethodScroll  = "scroll"
)

var validMethods = setOf(MethodClick, MethodFill, MethodPress, MethodHover, MethodCheck, MethodUncheck, MethodSelect, MethodScroll)

// Action is one concrete interaction resolved from a natural-language instruction.
type Action struct {
	XMLName xml.Name `xml:"action"`
	Method  string   `xml:"method"`
	Role    string   `xml:"role"`
	Name    string   `xml:"name"`
	Value   string   `xml:"value"`
}

// String describes the action for step results.
func (a *Action) String() string {
	var b strings.Builder
	b.WriteString(a.Method)
	if a.Role != "" {
		fmt.Fprintf(&b, " %s", a.Role)
	}
	if a.Name != "" {
		fmt.Fprintf(&b, " %q", a.Name)
	}
	if a.Value != "" {
		fmt.Fprintf(&b, " with %q", a.Value)
	}
	return b.String()
}

// Validate checks the action can be executed.
func (a *Action) Validate() error {
	if !validMethods[a.Method] {
		return fmt.Errorf("unsupported interaction method %q", a.Method)
	}
	switch a.Method {
	case MethodScroll:
		return nil
	case MethodPress:
		if a.Value == "" {
			return fmt.Errorf("press requires a key in value")
		}
		return nil
	case MethodFill, MethodSelect:
		if a.Value == "" {
			return fmt.Errorf("%s requires a value", a.Method)
		}
	}
	if a.Role == "" {
		return fmt.Errorf("%s requires a target role", a.Method)
	}
	return nil
}

var (
	actionBlockPattern   = regexp.MustCompile(`(?s)<action>.*?</action>`)
	elementsBlockPattern = regexp.MustCompile(`(?s)<elements>(.*?)</elements>`)
)

// Interpreter uses the LLM to turn instructions into concrete page operations.
type Interpreter struct {
	provider    llm.Provider
	tokenizer   *tokenizer.Tokenizer
	tokenBudget int
}

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithTokenBudget caps the page content sent for extraction.
func WithTokenBudget(tokens int) InterpreterOption {
	return func(i *Interpreter) {
		i.tokenBudget = tokens
	}
}

// WithTokenizer sets the tokenizer used to enforce the token budget.
func WithTokenizer(t *tokenizer.Tokenizer) InterpreterOption {
	return func(i *Interpreter) {
		i.tokenizer = t
	}
}

// NewInterpreter creates an interpreter backed by provider.
func NewInterpreter(provider llm.Provider, opts ...InterpreterOption) *Interpreter {
	i := &Interpreter{provider: provider, tokenBudget: 6000}
	for _, opt := range opts {
		opt(i)
	}
	if i.tokenizer == nil {
		// An estimating tokenizer is still usable when tiktoken cannot load.
		i.tokenizer, _ = tokenizer.New()
	}
	return i
}

// PlanAction asks the LLM which element to interact with and how.
func (i *Interpreter) PlanAction(ctx context.Context, instruction, url string, elements []Element) (*Action, error) {
	var prompt strings.Builder
	prompt.WriteString("You control a web page. Choose exactly one interaction that carries out the instruction.\n\n")
	fmt.Fprintf(&prompt, "URL: %s\nInstruction: %s\n\n", url, instruction)
	prompt.WriteString("Interactive elements (role \"accessible name\" attributes):\n")
	prompt.WriteString(formatElements(elements))
	prompt.WriteString("\nReply with a single block:\n")
	prompt.WriteString("<action><method>click|fill|press|hover|check|uncheck|select|scroll</method><role>element role</role><name>exact accessible name</name><value>text, key or option; for scroll: up or down</value></action>\n")
	prompt.WriteString("Use press without a role to send a key to the focused element.")

	reply, err := i.complete(ctx, prompt.String())
	if err != nil {
		return nil, err
	}
	return parseAction(reply)
}

// Extract asks the LLM for the data the instruction describes.
func (i *Interpreter) Extract(ctx context.Context, instruction, url string, page *CleanedPage) (string, error) {
	content, truncated := i.tokenizer.Truncate(page.Content, i.tokenBudget)

	var prompt strings.Builder
	prompt.WriteString("Extract the requested information from the web page below. Answer with the extracted data only. ")
	prompt.WriteString("If the information is not present, say so plainly.\n\n")
	fmt.Fprintf(&prompt, "Request: %s\nURL: %s\nTitle: %s\n", instruction, url, page.Title)
	if page.Description != "" {
		fmt.Fprintf(&prompt, "Description: %s\n", page.Description)
	}
	if truncated || page.Truncated {
		prompt.WriteString("(page content truncated)\n")
	}
	prompt.WriteString("\n```html\n")
	prompt.WriteString(content)
	prompt.WriteString("\n```")

	return i.complete(ctx, prompt.String())
}

// SelectElements asks the LLM which elements matter for the instruction.
func (i *Interpreter) SelectElements(ctx context.Context, instruction string, elements []Element) ([]Element, error) {
	if len(elements) == 0 {
		return nil, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Which of these interactive page elements are relevant to the instruction?\n\n")
	fmt.Fprintf(&prompt, "Instruction: %s\n\n", instruction)
	prompt.WriteString(formatElements(elements))
	prompt.WriteString("\nReply with <elements>comma-separated indices</elements>, or <elements>none</elements>.")

	reply, err := i.complete(ctx, prompt.String())
	if err != nil {
		return nil, err
	}
	return pickElements(reply, elements)
}

func (i *Interpreter) complete(ctx context.Context, prompt string) (string, error) {
	if i.provider == nil {
		return "", types.NewRunError(types.KindConfiguration, "no LLM provider configured for page interpretation")
	}
	reply, err := i.provider.Complete(ctx, []*types.Message{types.NewUserMessage(prompt)})
	if err != nil {
		return "", types.WrapRunError(types.KindOracle, "page interpretation", err)
	}
	if reply == nil {
		return "", types.NewRunError(types.KindOracle, "page interpretation: empty reply")
	}
	return strings.TrimSpace(reply.Content), nil
}

func parseAction(reply string) (*Action, error) {
	block := actionBlockPattern.FindString(reply)
	if block == "" {
		return nil, fmt.Errorf("no <action> block in interpretation reply")
	}

	var action Action
	if err := xml.Unmarshal([]byte(block), &action); err != nil {
		return nil, fmt.Errorf("invalid <action> block: %w", err)
	}
	action.Method = strings.ToLower(strings.TrimSpace(action.Method))
	action.Role = strings.ToLower(strings.TrimSpace(action.Role))
	action.Name = strings.TrimSpace(action.Name)

	if err := action.Validate(); err != nil {
		return nil, err
	}
	return &action, nil
}

func pickElements(reply string, elements []Element) ([]Element, error) {
	match := elementsBlockPattern.FindStringSubmatch(reply)
	if match == nil {
		return nil, fmt.Errorf("no <elements> block in interpretation reply")
	}

	body := strings.TrimSpace(match[1])
	if body == "" || strings.EqualFold(body, "none") {
		return []Element{}, nil
	}

	byIndex := make(map[int]Element, len(elements))
	for _, el := range elements {
		byIndex[el.Index] = el
	}

	var picked []Element
	seen := make(map[int]bool)
	for _, field := range strings.FieldsFunc(body, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		idx, err := strconv.Atoi(strings.Trim(field, "[]"))
		if err != nil {
			continue
		}
		if el, ok := byIndex[idx]; ok && !seen[idx] {
			seen[idx] = true
			picked = append(picked, el)
		}
	}
	return picked, nil
}
