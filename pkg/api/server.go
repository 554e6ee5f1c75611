// Package api is the REST Facade: it maps the HTTP surface onto the
// Config Loader, Session Supervisor, Risk Gate, Job Queue, and
// Introspection components, and centralizes error translation through
// pkg/api/errors.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apierrors "github.com/open-mcp/mcpbridge/pkg/api/errors"
	"github.com/open-mcp/mcpbridge/pkg/config"
	"github.com/open-mcp/mcpbridge/pkg/jobs"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/riskgate"
	"github.com/open-mcp/mcpbridge/pkg/supervisor"
)

// Request-handling timeouts for the HTTP server itself, as opposed to the
// per-backend deadlines each transport adapter enforces.
const (
	requestTimeout    = 120 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// App wires every core component the REST Facade fronts. It holds no
// HTTP-specific state itself; NewRouter builds the chi.Router that drives
// it.
type App struct {
	Store      *config.Store
	Supervisor *supervisor.Supervisor
	Gate       *riskgate.Gate
	Jobs       *jobs.Queue
	dispatcher *jobDispatcher
	startedAt  time.Time
	configPath string
}

// NewApp builds an App around a freshly constructed Supervisor, Gate, and
// Job Queue, backed by the persisted config file at configPath.
func NewApp(configPath string) *App {
	sup := supervisor.New()
	return &App{
		Store:      config.NewStore(configPath),
		Supervisor: sup,
		Gate:       riskgate.New(),
		Jobs:       jobs.NewQueue(),
		dispatcher: newJobDispatcher(sup),
		startedAt:  time.Now(),
		configPath: configPath,
	}
}

// StartConfigured loads the persisted document through the Config
// Loader — applying ${NAME} interpolation, the MCP_SERVER_<ID>_*
// environment overrides, and risk/isolation validation — then registers
// and starts every resulting backend, logging (not failing) any that
// cannot start so a single bad backend cannot prevent the rest of the
// fleet from coming up.
func (a *App) StartConfigured(ctx context.Context) error {
	specs, err := config.NewLoader(config.OSEnv).LoadDocument(a.configPath)
	if err != nil {
		return fmt.Errorf("api: loading persisted config: %w", err)
	}
	for id, spec := range specs {
		a.Supervisor.Register(spec)
		if err := a.Supervisor.Start(ctx, id); err != nil {
			logger.Warnf("api: backend %q did not start at boot: %v", id, err)
		}
	}
	return nil
}

// NewRouter builds the chi.Router implementing the REST Facade's HTTP surface.
func NewRouter(a *App) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	r.Get("/health", apierrors.ErrorHandler(a.handleHealth))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/servers", apierrors.ErrorHandler(a.handleListServers))
	r.Post("/servers", apierrors.ErrorHandler(a.handleAddServer))
	r.Delete("/servers/{id}", apierrors.ErrorHandler(a.handleDeleteServer))
	r.Get("/servers/{id}/tools", apierrors.ErrorHandler(a.handleListTools))
	r.Post("/servers/{id}/tools/{toolName}", apierrors.ErrorHandler(a.handleCallTool))
	r.Get("/servers/{id}/resources", apierrors.ErrorHandler(a.handleListResources))
	r.Get("/servers/{id}/resources/{uri}", apierrors.ErrorHandler(a.handleReadResource))
	r.Get("/servers/{id}/prompts", apierrors.ErrorHandler(a.handleListPrompts))
	r.Post("/servers/{id}/prompts/{name}", apierrors.ErrorHandler(a.handleGetPrompt))

	r.Post("/confirmations/{confirmationId}", apierrors.ErrorHandler(a.handleConfirmation))

	r.Post("/generate-postman", apierrors.ErrorHandler(a.handleGeneratePostman))

	r.Post("/tool/execute", apierrors.ErrorHandler(a.handleExecute))
	r.Post("/tool/execute/dynamic", apierrors.ErrorHandler(a.handleExecuteDynamic))
	r.Post("/results/{jobID}", apierrors.ErrorHandler(a.handlePollResult))
	r.Get("/results/{jobID}", apierrors.ErrorHandler(a.handlePollResult))
	r.Get("/jobs", apierrors.ErrorHandler(a.handleListJobs))

	r.Post("/test/timeout/{minutes}", apierrors.ErrorHandler(a.handleTestTimeout))

	return r
}

// Serve runs the HTTP server on address until ctx is cancelled, then
// shuts it down gracefully. It is assumed the caller also stops every
// supervised backend on the same signal.
func Serve(ctx context.Context, a *App, address string) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           otelhttp.NewHandler(NewRouter(a), "mcpbridge.rest"),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("api: listening on %s", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutting down: %w", err)
	}
	logger.Infof("api: stopped")
	return nil
}
