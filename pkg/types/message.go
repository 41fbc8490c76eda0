package types

// MessageRole identifies the author of a message sent to the oracle.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Image is an inline image attached to a message.
type Image struct {
	MIMEType string
	Data     []byte
}

// Message is a single oracle conversation message.
type Message struct {
	Role    MessageRole
	Content string

	// Images are attached after Content. Only user messages carry images.
	Images []Image
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// WithImage attaches an image and returns the message for chaining.
func (m *Message) WithImage(mimeType string, data []byte) *Message {
	m.Images = append(m.Images, Image{MIMEType: mimeType, Data: data})
	return m
}

// ModelInfo describes the model behind an LLM provider.
type ModelInfo struct {
	Provider       string
	Name           string
	SupportsImages bool
	MaxTokens      int
	Metadata       map[string]interface{}
}
