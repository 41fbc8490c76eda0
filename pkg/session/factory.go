package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/operator/pkg/browser"
	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/provision"
	"github.com/entrhq/operator/pkg/region"
)

// Request describes the session the registry wants created.
type Request struct {
	SessionID string

	// Region is where to provision, already resolved from the client timezone.
	Region region.Region

	// ContextID reuses a persisted context. Empty lets the factory decide.
	ContextID string
}

// Resource is what a factory hands back: a live page and how to tear it down.
type Resource struct {
	Page      browser.Page
	Region    region.Region
	ContextID string
	RemoteID  string
	DebugURL  string

	// Teardown closes the page and frees whatever backs it.
	Teardown func(ctx context.Context) error
}

// Factory creates browser resources for the registry.
type Factory interface {
	Create(ctx context.Context, req Request) (*Resource, error)
}

// ProvisionAPI is the part of the provisioning client the remote factory needs.
type ProvisionAPI interface {
	Create(ctx context.Context, req provision.CreateRequest) (*provision.Session, error)
	DebugURL(ctx context.Context, sessionID string) (string, error)
	Release(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	CreateContext(ctx context.Context) (string, error)
}

var _ ProvisionAPI = (*provision.Client)(nil)

// RemoteFactory provisions sessions through the provisioning API and
// attaches to them over CDP.
type RemoteFactory struct {
	api       ProvisionAPI
	connector browser.Connector
	logger    *logging.Logger

	// Persist writes cookies and storage back to the context on release.
	Persist bool

	// Timeout bounds the remote session lifetime. Zero uses the API default.
	Timeout time.Duration
}

// NewRemoteFactory creates a factory over api and connector.
func NewRemoteFactory(api ProvisionAPI, connector browser.Connector, logger *logging.Logger) *RemoteFactory {
	if logger == nil {
		logger = logging.NewNopLogger("session")
	}
	return &RemoteFactory{api: api, connector: connector, logger: logger, Persist: true}
}

// Create provisions, then connects. A remote session whose connection fails
// is deleted so it does not run until its timeout.
func (f *RemoteFactory) Create(ctx context.Context, req Request) (*Resource, error) {
	contextID := req.ContextID
	if contextID == "" && f.Persist {
		id, err := f.api.CreateContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create persisted context: %w", err)
		}
		contextID = id
	}

	remote, err := f.api.Create(ctx, provision.CreateRequest{
		Region:    string(req.Region),
		ContextID: contextID,
		Persist:   f.Persist,
		Timeout:   f.Timeout,
	})
	if err != nil {
		return nil, err
	}

	page, err := f.connector.Connect(ctx, remote.ConnectURL)
	if err != nil {
		f.discard(remote.ID)
		return nil, err
	}

	debugURL, err := f.api.DebugURL(ctx, remote.ID)
	if err != nil {
		// The live view is a convenience; the session is usable without it.
		f.logger.Warnf("Failed to get debug url for session %s: %v", remote.ID, err)
	}

	regionName := region.Region(remote.Region)
	if regionName == "" {
		regionName = req.Region
	}

	return &Resource{
		Page:      page,
		Region:    regionName,
		ContextID: remote.ContextID,
		RemoteID:  remote.ID,
		DebugURL:  debugURL,
		Teardown: func(ctx context.Context) error {
			closeErr := page.Close()
			releaseErr := f.api.Release(ctx, remote.ID)
			if provision.IsNotFound(releaseErr) {
				releaseErr = nil
			}
			return errors.Join(closeErr, releaseErr)
		},
	}, nil
}

func (f *RemoteFactory) discard(remoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.api.Delete(ctx, remoteID); err != nil && !provision.IsNotFound(err) {
		f.logger.Warnf("Failed to delete orphaned session %s: %v", remoteID, err)
	}
}

// LocalFactory launches a browser on this machine. Region and context only
// label the session; nothing is persisted.
type LocalFactory struct {
	launcher browser.Launcher
}

// NewLocalFactory creates a factory over launcher.
func NewLocalFactory(launcher browser.Launcher) *LocalFactory {
	return &LocalFactory{launcher: launcher}
}

// Create launches a fresh browser.
func (f *LocalFactory) Create(ctx context.Context, req Request) (*Resource, error) {
	page, err := f.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	return &Resource{
		Page:      page,
		Region:    req.Region,
		ContextID: req.ContextID,
		Teardown: func(context.Context) error {
			return page.Close()
		},
	}, nil
}
