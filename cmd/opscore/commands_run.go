package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opscoredev/core/internal/config"
	"github.com/opscoredev/core/internal/controlplane"
	"github.com/opscoredev/core/internal/orchestrator"
	"github.com/opscoredev/core/pkg/model"
)

// buildRunCmd creates the "run" command: the primary, long-running entry
// point. It loads configuration, constructs the Orchestrator and its
// dependencies, starts the run against the given objective, and serves the
// control surface over HTTP until SIGINT/SIGTERM.
func buildRunCmd() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Start an operations run in the foreground",
		Long: `Start an operations run in the foreground.

run will:
1. Load configuration from the given path (or opscore.yaml)
2. Build the Session Gateway, Event Log, and Event Stream
3. Start the Manager agent against the given objective
4. Serve the control surface (approve/inject/stop/...) and /metrics over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM: Stop is called and the
in-flight iteration, if any, is allowed to finish before exiting.`,
		Example: `  opscore run "keep the staging cluster healthy"
  opscore run --config prod.yaml --auto-approve "roll out the new image"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], autoApprove)
		},
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip the AwaitingApproval wait and approve every plan automatically")
	return cmd
}

func runRun(cmd *cobra.Command, objective string, autoApprove bool) error {
	path := resolveConfigPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if autoApprove {
		cfg.Run.AutoApprovePlan = true
	}

	rt, cleanup, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.orch.Start(ctx, objective); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	cfgSvc, err := controlplane.NewConfigService(path)
	if err != nil {
		rt.logger.Warn("control-plane config service unavailable", "error", err)
	}
	status := controlplane.NewRuntimeStatus(rt.orch, cfg.Server, version, time.Now())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpServer := &http.Server{Addr: addr, Handler: newControlServer(rt.orch, cfgSvc, status, rt.reqLogger)}

	go func() {
		rt.logger.Info("control plane listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.logger.Error("control plane server failed", "error", err)
		}
	}()

	<-ctx.Done()
	rt.logger.Info("shutdown signal received, stopping run")
	_ = rt.orch.Stop()
	waitForStopped(rt.orch, 5*time.Minute)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}

// waitForStopped polls until the Orchestrator reaches Stopped (or Error, or
// Idle from a Reset elsewhere), or until timeout elapses, so an in-flight
// iteration gets a chance to finish before the process exits.
func waitForStopped(orch *orchestrator.Orchestrator, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		switch orch.Phase() {
		case model.PhaseStopped, model.PhaseError, model.PhaseIdle:
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}
