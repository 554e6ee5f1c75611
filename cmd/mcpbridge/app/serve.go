package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-mcp/mcpbridge/pkg/api"
	"github.com/open-mcp/mcpbridge/pkg/config"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/metrics"
)

// defaultPort is used when the PORT environment variable is unset.
const defaultPort = "3000"

// shutdownGrace bounds how long serve waits for every supervised backend
// to stop once a termination signal arrives.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	var address string
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mcpbridge REST proxy",
		Long: `Start the mcpbridge REST proxy, bringing up every backend already
present in the persisted config document and listening for the HTTP
surface described in the project's REST Facade.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), address, configPath)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "address to listen on (default :$PORT, or :3000)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to the persisted backend config (default $MCP_CONFIG_PATH, or ./mcp_config.json)")

	return cmd
}

func runServe(ctx context.Context, address, configPath string) error {
	if address == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = defaultPort
		}
		address = ":" + port
	}
	if configPath == "" {
		configPath = os.Getenv("MCP_CONFIG_PATH")
		if configPath == "" {
			configPath = config.DefaultConfigPath
		}
	}

	a := api.NewApp(configPath)

	bootCtx, cancelBoot := context.WithTimeout(ctx, 60*time.Second)
	defer cancelBoot()
	if err := a.StartConfigured(bootCtx); err != nil {
		return fmt.Errorf("starting configured backends: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go a.Jobs.RunSweeper(sweepCtx)
	go runConfirmationSweeper(sweepCtx, a)

	logger.Infof("mcpbridge: config=%s", configPath)
	if err := api.Serve(runCtx, a, address); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := a.Supervisor.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("mcpbridge: shutting down backends: %v", err)
	}
	if err := metrics.Get().Shutdown(shutdownCtx); err != nil {
		logger.Warnf("mcpbridge: shutting down metrics provider: %v", err)
	}
	return nil
}

// runConfirmationSweeper periodically evicts expired pending confirmations,
// mirroring the Job Queue's own TTL sweeper cadence.
func runConfirmationSweeper(ctx context.Context, a *api.App) {
	const interval = 10 * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := a.Gate.Sweep(); n > 0 {
				logger.Infof("mcpbridge: swept %d expired confirmation(s)", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
