package decision

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/types"
)

// mockProvider replies from a queue and records every call.
type mockProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	images  bool
	calls   [][]*types.Message
}

func (m *mockProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return types.NewAssistantMessage(""), nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return types.NewAssistantMessage(reply), nil
}

func (m *mockProvider) GetModelInfo() *types.ModelInfo {
	return &types.ModelInfo{Provider: "mock", Name: "mock", SupportsImages: m.images}
}

func (m *mockProvider) GetModel() string { return "mock" }

func TestDecide(t *testing.T) {
	provider := &mockProvider{
		images: true,
		replies: []string{`Thinking first.
<step>
<text>Read the price</text>
<reasoning>The quote is visible.</reasoning>
<tool>extract</tool>
<instruction><![CDATA[the current price of X]]></instruction>
</step>`},
	}
	m := metrics.New()
	engine := NewLLMEngine(provider, WithMetrics(m))

	history := types.History{{Text: "Open search", Tool: types.ToolGoto, Instruction: "https://www.google.com/search?q=X", StepNumber: 1}}
	step, err := engine.Decide(context.Background(), Request{
		Goal:       "price of stock X",
		History:    history,
		Latest:     "X trades at 42",
		Screenshot: []byte("png"),
	})
	require.NoError(t, err)

	assert.Equal(t, types.ToolExtract, step.Tool)
	assert.Equal(t, "the current price of X", step.Instruction)
	assert.Equal(t, "Read the price", step.Text)
	assert.Equal(t, "The quote is visible.", step.Reasoning)
	assert.Equal(t, 2, step.StepNumber)

	require.Len(t, provider.calls, 1)
	msgs := provider.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	user := msgs[1]
	assert.Contains(t, user.Content, "price of stock X")
	assert.Contains(t, user.Content, "1. [GOTO] Open search")
	assert.Contains(t, user.Content, "X trades at 42")
	assert.Contains(t, user.Content, "USER_INPUT")
	require.Len(t, user.Images, 1)
	assert.Equal(t, "image/png", user.Images[0].MIMEType)
}

func TestDecide_NoImageWhenNotSupported(t *testing.T) {
	provider := &mockProvider{replies: []string{"<step><tool>NAVBACK</tool></step>"}}
	engine := NewLLMEngine(provider)

	step, err := engine.Decide(context.Background(), Request{Goal: "g", Screenshot: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, types.ToolNavBack, step.Tool)
	assert.Equal(t, 1, step.StepNumber)
	assert.Empty(t, provider.calls[0][1].Images)
	assert.NotContains(t, provider.calls[0][1].Content, "screenshot of the current page")
}

func TestDecide_NoScreenshot(t *testing.T) {
	provider := &mockProvider{images: true, replies: []string{"<step><tool>CLOSE</tool><text>done</text></step>"}}
	engine := NewLLMEngine(provider)

	step, err := engine.Decide(context.Background(), Request{Goal: "g"})
	require.NoError(t, err)
	assert.Equal(t, types.ToolClose, step.Tool)
	assert.Empty(t, provider.calls[0][1].Images)
}

func TestDecide_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "empty reply", reply: ""},
		{name: "no step block", reply: "I think we should click the button."},
		{name: "unknown tool", reply: "<step><tool>SCROLL</tool><instruction>down</instruction></step>"},
		{name: "internal tool", reply: "<step><tool>SCREENSHOT</tool></step>"},
		{name: "missing instruction", reply: "<step><tool>GOTO</tool><instruction>  </instruction></step>"},
		{name: "broken xml", reply: "<step><tool>ACT</tool><instruction>click</step>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewLLMEngine(&mockProvider{replies: []string{tt.reply}})
			_, err := engine.Decide(context.Background(), Request{Goal: "g"})
			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindMalformedDecision), "got %v", err)
		})
	}
}

func TestDecide_OracleFailure(t *testing.T) {
	engine := NewLLMEngine(&mockProvider{err: errors.New("503 from upstream")})

	_, err := engine.Decide(context.Background(), Request{Goal: "g"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindOracle))
}

func TestDecide_NoProvider(t *testing.T) {
	engine := NewLLMEngine(nil)

	_, err := engine.Decide(context.Background(), Request{Goal: "g"})
	assert.True(t, types.IsKind(err, types.KindConfiguration))
}

func TestDecide_TruncatesLatest(t *testing.T) {
	provider := &mockProvider{replies: []string{"<step><tool>CLOSE</tool></step>"}}
	engine := NewLLMEngine(provider, WithLatestBudget(2))

	long := "abcdefghijklmnopqrstuvwxyz abcdefghijklmnopqrstuvwxyz abcdefghijklmnopqrstuvwxyz"
	_, err := engine.Decide(context.Background(), Request{Goal: "g", Latest: long})
	require.NoError(t, err)

	content := provider.calls[0][1].Content
	assert.Contains(t, content, "(truncated)")
	assert.NotContains(t, content, long)
}

func TestSelectStart(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantURL string
	}{
		{
			name:    "absolute url",
			reply:   "<start><url>https://finance.example.com/quote?s=X&range=1d</url><reasoning>Quotes live here.</reasoning></start>",
			wantURL: "https://finance.example.com/quote?s=X&range=1d",
		},
		{
			name:    "bare host",
			reply:   "<start><url>news.example.org</url></start>",
			wantURL: "https://news.example.org",
		},
		{name: "empty url", reply: "<start><url></url></start>", wantURL: DefaultStartURL},
		{name: "no block", reply: "Go to google", wantURL: DefaultStartURL},
		{name: "bad scheme", reply: "<start><url>javascript://alert(1)</url></start>", wantURL: DefaultStartURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewLLMEngine(&mockProvider{replies: []string{tt.reply}})
			start, err := engine.SelectStart(context.Background(), "price of stock X")
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, start.URL)
		})
	}
}

func TestSelectStart_CustomDefault(t *testing.T) {
	engine := NewLLMEngine(&mockProvider{replies: []string{"nothing"}}, WithDefaultStartURL("https://duckduckgo.com"))
	start, err := engine.SelectStart(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, "https://duckduckgo.com", start.URL)
}

func TestSelectStart_OracleFailure(t *testing.T) {
	engine := NewLLMEngine(&mockProvider{err: errors.New("timeout")})
	_, err := engine.SelectStart(context.Background(), "g")
	assert.True(t, types.IsKind(err, types.KindOracle))
}

func TestStartStep(t *testing.T) {
	step := StartStep(&Start{URL: "https://example.com", Reasoning: "because"})
	assert.Equal(t, types.ToolGoto, step.Tool)
	assert.Equal(t, "https://example.com", step.Instruction)
	assert.Equal(t, 1, step.StepNumber)
	assert.NoError(t, step.Validate())
}
