// Package browser is the browser capability a session owns: navigation,
// natural-language interaction, extraction, observation and screenshots.
package browser

import (
	"context"
	"time"
)

// Page is the capability handle for one live browser page. Implementations
// are not safe for concurrent use; the session registry hands each page to a
// single owner.
type Page interface {
	// Navigate loads url. It returns once navigation commits, not when the
	// page has finished loading.
	Navigate(ctx context.Context, url string, opts NavigateOptions) error

	// Act performs one interaction described in natural language.
	Act(ctx context.Context, instruction string) (string, error)

	// Extract pulls the data described by instruction from the current page.
	// An empty instruction returns the cleaned page text.
	Extract(ctx context.Context, instruction string) (string, error)

	// Observe describes the currently actionable elements, using the
	// accessibility tree.
	Observe(ctx context.Context, opts ObserveOptions) ([]Element, error)

	// GoBack navigates to the previous history entry.
	GoBack(ctx context.Context) error

	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// URL returns the current page URL.
	URL() string

	// Close releases the page and the browser resources behind it.
	Close() error
}

// WaitUntil is the navigation milestone Navigate waits for.
type WaitUntil string

const (
	WaitUntilCommit           WaitUntil = "commit"
	WaitUntilDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitUntilLoad             WaitUntil = "load"
)

// NavigateOptions configures page navigation.
type NavigateOptions struct {
	// WaitUntil defaults to WaitUntilCommit.
	WaitUntil WaitUntil

	// Timeout bounds the navigation. Zero uses the page default.
	Timeout time.Duration
}

// ObserveOptions configures Observe.
type ObserveOptions struct {
	// Instruction narrows the result to elements relevant to it. Empty
	// returns every actionable element.
	Instruction string

	// UseAccessibilityTree selects the accessibility-tree strategy. It is
	// the only strategy implemented and is assumed when false.
	UseAccessibilityTree bool
}

// Element is one node of the accessibility tree.
type Element struct {
	Index      int               `json:"index"`
	Role       string            `json:"role"`
	Name       string            `json:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Depth      int               `json:"depth"`
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Default values for page operations.
const (
	DefaultNavigateTimeout = 15 * time.Second
	DefaultActionTimeout   = 10 * time.Second
	DefaultViewportWidth   = 1280
	DefaultViewportHeight  = 800
	DefaultMaxHTMLLength   = 60000
)
