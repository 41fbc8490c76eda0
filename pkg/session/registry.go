package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/region"
	"github.com/entrhq/operator/pkg/types"
)

// DefaultReleaseTimeout bounds one session teardown.
const DefaultReleaseTimeout = 30 * time.Second

// slot guards one session id. Its lock is held for the whole of provisioning
// and teardown, so work on one id serializes while other ids proceed.
type slot struct {
	sem     chan struct{}
	current atomic.Pointer[Handle]

	// Guarded by sem.
	removed bool
	err     error
}

func newSlot() *slot {
	return &slot{sem: make(chan struct{}, 1)}
}

func (s *slot) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) unlock() { <-s.sem }

// AcquireOptions carries the per-session provisioning hints.
type AcquireOptions struct {
	// Timezone is the client's IANA timezone, used to pick a region.
	Timezone string

	// ContextID seeds the session with a persisted context.
	ContextID string
}

// Registry maps session ids to live browser handles.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot

	factory        Factory
	logger         *logging.Logger
	metrics        *metrics.Metrics
	releaseTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMetrics records session metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithReleaseTimeout bounds each teardown.
func WithReleaseTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.releaseTimeout = d
	}
}

// NewRegistry creates an empty registry that provisions through factory.
func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		slots:          make(map[string]*slot),
		factory:        factory,
		releaseTimeout: DefaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NewNopLogger("session")
	}
	return r
}

// Acquire returns the active handle for id, provisioning one if needed.
// Concurrent callers for the same id wait for a single provisioning attempt
// and share its handle, or its error.
func (r *Registry) Acquire(ctx context.Context, id string, opts AcquireOptions) (*Handle, error) {
	if id == "" {
		return nil, types.NewRunError(types.KindInternal, "session id is required")
	}

	for {
		s := r.slotFor(id)
		if err := s.lock(ctx); err != nil {
			return nil, types.WrapRunError(types.KindCanceled, "waiting for session "+id, err)
		}

		if s.err != nil {
			err := s.err
			s.unlock()
			return nil, err
		}
		if s.removed {
			// Released while we waited; start over on a fresh slot.
			s.unlock()
			continue
		}
		if h := s.current.Load(); h != nil {
			s.unlock()
			return h, nil
		}

		h, err := r.provision(ctx, id, opts)
		if err != nil {
			s.err = err
			s.removed = true
			r.evict(id, s)
			s.unlock()
			return nil, err
		}
		s.current.Store(h)
		s.unlock()
		return h, nil
	}
}

func (r *Registry) slotFor(id string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		s = newSlot()
		r.slots[id] = s
	}
	return s
}

// evict drops the map entry for id if it still points at s.
func (r *Registry) evict(id string, s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[id] == s {
		delete(r.slots, id)
	}
}

func (r *Registry) provision(ctx context.Context, id string, opts AcquireOptions) (*Handle, error) {
	h := newHandle(id)
	req := Request{
		SessionID: id,
		Region:    region.Select(opts.Timezone),
		ContextID: opts.ContextID,
	}

	r.logger.Info().Str("session_id", id).Str("region", string(req.Region)).Msg("Provisioning session")
	start := time.Now()
	res, err := r.factory.Create(ctx, req)
	r.metrics.ObserveProvisioning(time.Since(start), err)
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", id).Msg("Provisioning failed")
		return nil, types.WrapRunError(types.KindProvisioning, "session "+id, err)
	}
	if res == nil || res.Page == nil {
		return nil, types.NewRunError(types.KindProvisioning, fmt.Sprintf("session %s: factory returned no page", id))
	}

	h.attach(res)
	h.setState(StateActive)
	r.logger.Info().
		Str("session_id", id).
		Str("region", string(h.region)).
		Str("remote_id", h.remoteID).
		Str("context_id", h.contextID).
		Msg("Session active")
	return h, nil
}

// Get returns the active handle for id without provisioning.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	s, ok := r.slots[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	h := s.current.Load()
	if h == nil || h.State() != StateActive {
		return nil, false
	}
	return h, true
}

// Release closes the session for id and removes it. Unknown or already
// closing ids are a no-op. Teardown failures are logged, never returned, and
// the entry is removed regardless. A release issued during provisioning
// waits for it to finish.
func (r *Registry) Release(ctx context.Context, id string) {
	r.mu.Lock()
	s, ok := r.slots[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.closeSlot(ctx, id, s); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Msg("Session teardown failed")
	}
}

// ReleaseAll closes every tracked session concurrently. One failure does not
// stop the others; the failures are joined in the result and the registry is
// left empty.
func (r *Registry) ReleaseAll(ctx context.Context) error {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for id, s := range slots {
		g.Go(func() error {
			if err := r.closeSlot(ctx, id, s); err != nil {
				r.logger.Warn().Err(err).Str("session_id", id).Msg("Session teardown failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// closeSlot tears down the slot's handle exactly once.
func (r *Registry) closeSlot(ctx context.Context, id string, s *slot) error {
	// Teardown must run even when the caller's context is already canceled.
	ctx = context.WithoutCancel(ctx)
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if s.removed {
		return nil
	}
	s.removed = true
	r.evict(id, s)

	h := s.current.Load()
	if h == nil {
		return nil
	}
	h.setState(StateClosing)

	tctx, cancel := context.WithTimeout(ctx, r.releaseTimeout)
	defer cancel()

	var err error
	if h.teardown != nil {
		err = h.teardown(tctx)
	}
	h.setState(StateClosed)
	r.metrics.ObserveRelease(err)

	if err == nil {
		r.logger.Info().Str("session_id", id).Msg("Session released")
	}
	return err
}

// List describes every tracked session, sorted by id. Sessions still being
// provisioned are reported with only their id and state.
func (r *Registry) List() []Info {
	r.mu.Lock()
	ids := make([]string, 0, len(r.slots))
	slots := make(map[string]*slot, len(r.slots))
	for id, s := range r.slots {
		ids = append(ids, id)
		slots[id] = s
	}
	r.mu.Unlock()

	sort.Strings(ids)
	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		if h := slots[id].current.Load(); h != nil {
			infos = append(infos, h.Info())
			continue
		}
		infos = append(infos, Info{ID: id, State: StateProvisioning})
	}
	return infos
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
