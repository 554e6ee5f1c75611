// Package supervisor owns the lifecycle of every backend session: it maps
// a config.BackendSpec to a running transport adapter, serializes
// start/stop per backend id, and enforces the initialize handshake
// timeout.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/open-mcp/mcpbridge/pkg/config"
	"github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/metrics"
	"github.com/open-mcp/mcpbridge/pkg/transport/httptransport"
	"github.com/open-mcp/mcpbridge/pkg/transport/sse"
	"github.com/open-mcp/mcpbridge/pkg/transport/stdio"
	"github.com/open-mcp/mcpbridge/pkg/transport/types"
)

// State is a BackendSession's initialization_state.
type State string

// The four states a session can be in.
const (
	StateStarting    State = "starting"
	StateInitialized State = "initialized"
	StateTimeout     State = "timeout"
	StateError       State = "error"
)

// pidProvider is implemented by adapters (currently stdio) that can report
// the OS process backing their session, for /health and /servers.
type pidProvider interface {
	PID() int
}

// session is one backend's supervised state.
type session struct {
	mu          sync.Mutex
	spec        *config.BackendSpec
	adapter     types.Adapter
	initialized bool
	state       State
}

// Status is the public snapshot of one session returned by Supervisor.Status
// and Supervisor.StatusAll, matching the fields
// GET /servers and GET /health.
type Status struct {
	ID                  string
	Transport           config.TransportKind
	Connected           bool
	PID                 int
	InitializationState State
	RiskLevel           config.RiskLevel
}

// Supervisor is the registry of every configured backend's session.
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// New builds an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{sessions: map[string]*session{}}
}

// Register adds spec to the registry without starting it. Calling
// Register for an id that already exists replaces its spec; the caller
// is responsible for stopping any running session first.
func (s *Supervisor) Register(spec *config.BackendSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[spec.ID] = &session{spec: spec, state: StateStarting}
}

// Start initializes the backend identified by id, building the adapter
// for its transport kind and running the handshake. Start rejects a
// backend that is already live rather than silently reusing its session.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.initialized {
		return errors.NewConflictError(fmt.Sprintf("backend %q is already initialized", id), nil)
	}

	sess.state = StateStarting
	adapter, err := buildAdapter(sess.spec)
	if err != nil {
		sess.state = StateError
		return errors.NewInternalError(fmt.Sprintf("building adapter for %q", id), err)
	}
	if err := adapter.Start(ctx); err != nil {
		if ctx.Err() != nil {
			sess.state = StateTimeout
		} else {
			sess.state = StateError
		}
		return errors.NewUpstreamError(fmt.Sprintf("starting backend %q", id), err)
	}

	sess.adapter = adapter
	sess.initialized = true
	sess.state = StateInitialized
	metrics.Get().IncBackendsConnected(ctx)
	return nil
}

// buildAdapter constructs the transport.Adapter matching spec's
// transport kind.
func buildAdapter(spec *config.BackendSpec) (types.Adapter, error) {
	switch spec.Transport {
	case config.TransportStdio:
		return stdio.New(spec), nil
	case config.TransportHTTP:
		return httptransport.New(spec.URL), nil
	case config.TransportSSE:
		return sse.New(spec.URL, spec.SSE), nil
	default:
		return nil, fmt.Errorf("supervisor: unknown transport kind %q", spec.Transport)
	}
}

// Adapter returns the running adapter for id, or an error if the backend
// is unknown or has not completed its handshake yet.
func (s *Supervisor) Adapter(id string) (types.Adapter, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.initialized {
		return nil, errors.NewNotInitializedError(fmt.Sprintf("backend %q has not completed initialization", id), nil)
	}
	return sess.adapter, nil
}

// Spec returns a copy of the registered config for id. Callers that need
// to mutate the result (introspection's transient-backend flow rewrites
// .ID, for instance) must not be able to reach back into the live
// session's own spec through it.
func (s *Supervisor) Spec(id string) (*config.BackendSpec, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.spec.Clone(), nil
}

// List returns the ids of every registered backend.
func (s *Supervisor) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Status returns the public snapshot of one session.
func (s *Supervisor) Status(id string) (Status, error) {
	sess, err := s.get(id)
	if err != nil {
		return Status{}, err
	}
	return sess.status(), nil
}

// StatusAll returns the public snapshot of every registered session, for
// GET /servers and GET /health.
func (s *Supervisor) StatusAll() []Status {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	out := make([]Status, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.status())
	}
	return out
}

func (sess *session) status() Status {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	st := Status{
		ID:                  sess.spec.ID,
		Transport:           sess.spec.Transport,
		Connected:           sess.initialized,
		InitializationState: sess.state,
		RiskLevel:           sess.spec.RiskLevel,
	}
	if p, ok := sess.adapter.(pidProvider); ok {
		st.PID = p.PID()
	}
	return st
}

func (s *Supervisor) get(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("backend %q is not registered", id), nil)
	}
	return sess, nil
}

// Stop shuts down a single backend's adapter and removes it from the
// registry.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError(fmt.Sprintf("backend %q is not registered", id), nil)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.adapter == nil {
		return nil
	}
	if sess.initialized {
		metrics.Get().DecBackendsConnected(ctx)
	}
	return sess.adapter.Shutdown(ctx)
}

// Shutdown stops every running session in parallel, returning the first
// error encountered while logging the rest, so one stuck backend cannot
// delay the others during process termination.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = map[string]*session{}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if sess.adapter == nil {
				return nil
			}
			if sess.initialized {
				metrics.Get().DecBackendsConnected(gctx)
			}
			if err := sess.adapter.Shutdown(gctx); err != nil {
				logger.Warnf("supervisor: shutting down backend %q: %v", sess.spec.ID, err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
