// Package decision asks the reasoning oracle for the next browser step and
// for the URL a run starts from.
package decision

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/operator/pkg/llm"
	"github.com/entrhq/operator/pkg/llm/tokenizer"
	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/types"
)

// DefaultStartURL is used when the oracle offers no usable start page.
const DefaultStartURL = "https://www.google.com"

// Request is the input of one decision.
type Request struct {
	Goal    string
	History types.History

	// Latest is the payload of the most recent EXTRACT or OBSERVE, if any.
	Latest string

	// Screenshot is the current page as PNG. Nil sends no image.
	Screenshot []byte
}

// Start is the oracle's choice of where a run begins.
type Start struct {
	URL       string
	Reasoning string
}

// Engine produces decisions.
type Engine interface {
	// Decide returns exactly one validated step, numbered to follow the history.
	Decide(ctx context.Context, req Request) (*types.Step, error)

	// SelectStart picks the first URL from the goal alone.
	SelectStart(ctx context.Context, goal string) (*Start, error)
}

// LLMEngine implements Engine on an llm.Provider.
type LLMEngine struct {
	provider        llm.Provider
	tokenizer       *tokenizer.Tokenizer
	latestBudget    int
	defaultStartURL string
	logger          *logging.Logger
	metrics         *metrics.Metrics
}

var _ Engine = (*LLMEngine)(nil)

// Option configures an LLMEngine.
type Option func(*LLMEngine)

// WithDefaultStartURL sets the fallback start page.
func WithDefaultStartURL(u string) Option {
	return func(e *LLMEngine) {
		if u != "" {
			e.defaultStartURL = u
		}
	}
}

// WithLatestBudget caps the tokens of the latest result sent to the oracle.
func WithLatestBudget(tokens int) Option {
	return func(e *LLMEngine) {
		e.latestBudget = tokens
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *LLMEngine) {
		e.logger = l
	}
}

// WithMetrics records decision metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *LLMEngine) {
		e.metrics = m
	}
}

// NewLLMEngine creates an engine backed by provider.
func NewLLMEngine(provider llm.Provider, opts ...Option) *LLMEngine {
	e := &LLMEngine{
		provider:        provider,
		latestBudget:    6000,
		defaultStartURL: DefaultStartURL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNopLogger("decision")
	}
	// Estimates are good enough when the encoding is unavailable.
	e.tokenizer, _ = tokenizer.New()
	return e
}

// Decide asks the oracle for the next step.
func (e *LLMEngine) Decide(ctx context.Context, req Request) (step *types.Step, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveDecision(time.Since(start), err)
	}()

	latest, truncated := e.tokenizer.Truncate(req.Latest, e.latestBudget)

	withImage := len(req.Screenshot) > 0
	if withImage {
		if info := e.provider.GetModelInfo(); info != nil && !info.SupportsImages {
			withImage = false
		}
	}

	user := types.NewUserMessage(decisionPrompt(req.Goal, req.History, latest, truncated, withImage))
	if withImage {
		user = user.WithImage("image/png", req.Screenshot)
	}

	reply, err := e.complete(ctx, "decide next step", types.NewSystemMessage(systemPrompt), user)
	if err != nil {
		return nil, err
	}

	step, err = ParseStep(reply)
	if err != nil {
		e.logger.Warn().Err(err).Str("reply", snippet(reply)).Msg("Malformed decision")
		return nil, err
	}
	step.StepNumber = req.History.NextNumber()

	e.logger.Debug().
		Int("step", step.StepNumber).
		Str("tool", step.Tool.String()).
		Str("instruction", step.Instruction).
		Msg("Decision")
	return step, nil
}

// SelectStart asks the oracle for a starting URL. A missing or unusable
// answer falls back to the default start URL rather than failing the run.
func (e *LLMEngine) SelectStart(ctx context.Context, goal string) (*Start, error) {
	reply, err := e.complete(ctx, "select start page",
		types.NewSystemMessage(startPrompt),
		types.NewUserMessage("<goal>\n"+goal+"\n</goal>"),
	)
	if err != nil {
		return nil, err
	}

	raw, ok := parseStart(reply)
	if !ok {
		e.logger.Warnf("No usable start block in reply, using %s", e.defaultStartURL)
		return &Start{URL: e.defaultStartURL, Reasoning: "Starting from the default page."}, nil
	}

	u, ok := normalizeURL(raw.URL)
	if !ok {
		e.logger.Warnf("Unusable start URL %q, using %s", raw.URL, e.defaultStartURL)
		u = e.defaultStartURL
	}
	return &Start{URL: u, Reasoning: raw.Reasoning}, nil
}

func (e *LLMEngine) complete(ctx context.Context, op string, messages ...*types.Message) (string, error) {
	if e.provider == nil {
		return "", types.NewRunError(types.KindConfiguration, "no LLM provider configured")
	}
	reply, err := e.provider.Complete(ctx, messages)
	if err != nil {
		return "", types.WrapRunError(types.KindOracle, op, err)
	}
	if reply == nil {
		return "", types.NewRunError(types.KindOracle, op+": empty reply")
	}
	return reply.Content, nil
}

// normalizeURL accepts absolute http(s) URLs and bare hosts.
func normalizeURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

// StartStep synthesizes the first step of a run from the start choice.
func StartStep(start *Start) types.Step {
	return types.Step{
		Text:        fmt.Sprintf("Open %s", start.URL),
		Reasoning:   start.Reasoning,
		Tool:        types.ToolGoto,
		Instruction: start.URL,
		StepNumber:  1,
	}
}
