package provision

import "time"

// SessionStatus is the lifecycle status reported by the provisioning API.
type SessionStatus string

const (
	StatusRunning        SessionStatus = "RUNNING"
	StatusCompleted      SessionStatus = "COMPLETED"
	StatusError          SessionStatus = "ERROR"
	StatusTimedOut       SessionStatus = "TIMED_OUT"
	StatusRequestRelease SessionStatus = "REQUEST_RELEASE"
)

// Session is a remote browser instance.
type Session struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"projectId"`
	Status     SessionStatus `json:"status"`
	Region     string        `json:"region"`
	StartedAt  time.Time     `json:"startedAt"`
	ExpiresAt  time.Time     `json:"expiresAt"`
	ConnectURL string        `json:"connectUrl"`
	ContextID  string        `json:"contextId,omitempty"`
}

// CreateRequest describes a session to provision.
type CreateRequest struct {
	Region string

	// ContextID seeds the session with a persisted context. Empty starts fresh.
	ContextID string

	// Persist writes the session's cookies and storage back into ContextID on release.
	Persist bool

	// Timeout bounds the remote session lifetime. Zero uses the API default.
	Timeout time.Duration
}

type createSessionBody struct {
	ProjectID       string           `json:"projectId"`
	Region          string           `json:"region,omitempty"`
	Timeout         int              `json:"timeout,omitempty"`
	BrowserSettings *browserSettings `json:"browserSettings,omitempty"`
}

type browserSettings struct {
	Context *contextSettings `json:"context,omitempty"`
}

type contextSettings struct {
	ID      string `json:"id"`
	Persist bool   `json:"persist"`
}

type updateSessionBody struct {
	ProjectID string        `json:"projectId"`
	Status    SessionStatus `json:"status"`
}

type debugResponse struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
	WSURL                 string `json:"wsUrl"`
}

type createContextBody struct {
	ProjectID string `json:"projectId"`
}

type contextResponse struct {
	ID string `json:"id"`
}
