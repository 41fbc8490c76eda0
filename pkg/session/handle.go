// Package session owns live browser sessions. The Registry is the only
// component that creates or destroys the browser handle behind a session id.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/entrhq/operator/pkg/browser"
	"github.com/entrhq/operator/pkg/region"
)

// State is the lifecycle state of a registry entry. Entries only move forward.
type State int32

const (
	StateProvisioning State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateProvisioning:
		return "provisioning"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handle is the registry's record of one session. The page it carries is
// owned by the registry; callers must not close it themselves.
type Handle struct {
	id        string
	page      browser.Page
	region    region.Region
	contextID string
	remoteID  string
	debugURL  string
	createdAt time.Time
	teardown  func(context.Context) error

	state atomic.Int32
}

func newHandle(id string) *Handle {
	h := &Handle{id: id, createdAt: time.Now()}
	h.state.Store(int32(StateProvisioning))
	return h
}

func (h *Handle) attach(res *Resource) {
	h.page = res.Page
	h.region = res.Region
	h.contextID = res.ContextID
	h.remoteID = res.RemoteID
	h.debugURL = res.DebugURL
	h.teardown = res.Teardown
}

// ID returns the session id the handle is registered under.
func (h *Handle) ID() string { return h.id }

// Page returns the browser capability.
func (h *Handle) Page() browser.Page { return h.page }

// Region returns the provisioning region.
func (h *Handle) Region() region.Region { return h.region }

// ContextID returns the persisted context id, which may outlive the session.
func (h *Handle) ContextID() string { return h.contextID }

// RemoteID returns the provisioning API's session id. Empty for local sessions.
func (h *Handle) RemoteID() string { return h.remoteID }

// DebugURL returns a live view of the page a human can open.
func (h *Handle) DebugURL() string { return h.debugURL }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

func (h *Handle) setState(s State) { h.state.Store(int32(s)) }

// Info is a point-in-time description of a session.
type Info struct {
	ID        string        `json:"id"`
	State     State         `json:"state"`
	Region    region.Region `json:"region,omitempty"`
	ContextID string        `json:"contextId,omitempty"`
	RemoteID  string        `json:"remoteId,omitempty"`
	DebugURL  string        `json:"debugUrl,omitempty"`
	URL       string        `json:"url,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Info snapshots the handle.
func (h *Handle) Info() Info {
	info := Info{
		ID:        h.id,
		State:     h.State(),
		Region:    h.region,
		ContextID: h.contextID,
		RemoteID:  h.remoteID,
		DebugURL:  h.debugURL,
		CreatedAt: h.createdAt,
	}
	if info.State == StateActive && h.page != nil {
		info.URL = h.page.URL()
	}
	return info
}
