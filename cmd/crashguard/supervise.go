package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/crashguard/internal/api"
	"github.com/miradorstack/crashguard/internal/config"
	"github.com/miradorstack/crashguard/internal/detector"
	"github.com/miradorstack/crashguard/internal/guard"
	"github.com/miradorstack/crashguard/internal/history"
	"github.com/miradorstack/crashguard/internal/metrics"
	"github.com/miradorstack/crashguard/internal/mitigation"
	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/patchstate"
	"github.com/miradorstack/crashguard/internal/supervisor"
)

func newSuperviseCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "supervise -- command [args...]",
		Short: "Run an application and guard it against patch crash loops",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			return runSupervise(cmd, cfg, logger, args)
		},
	}
}

func runSupervise(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, args []string) error {
	logger.Info("starting crashguard", slog.String("command", args[0]), slog.String("state_file", cfg.Patch.StateFile))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store, err := history.Open(cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open crash history: %w", err)
	}
	defer store.Close()

	signatures, err := detector.LoadSignatures(cfg.Detector.SignaturesPath)
	if err != nil {
		return err
	}
	strategy, err := models.ParseStrategy(cfg.Guard.Strategy)
	if err != nil {
		return err
	}

	state := patchstate.NewFileState(cfg.Patch.StateFile)
	self := func() []int { return []int{os.Getpid()} }
	actions := mitigation.ForController(state,
		mitigation.PeerKiller(logger, cfg.Mitigation.PeerPIDGlob, self),
		mitigation.LogNotifier(logger, cmd.ErrOrStderr()))

	crashGuard := guard.New(guard.Options{
		Logger:           logger,
		Provider:         state,
		Store:            store,
		Attributor:       detector.New(logger, signatures),
		Actions:          actions,
		Strategy:         strategy,
		QuickCrashWindow: cfg.Guard.QuickCrashWindow,
		MaxCrashCount:    cfg.Guard.MaxCrashCount,
		WarningMessage:   cfg.Guard.WarningMessage,
	}, guard.Discard)

	var (
		server *api.Server
		status supervisor.StatusReporter
	)
	if cfg.Server.Address != "" {
		server, err = api.NewServer(cfg.Server)
		if err != nil {
			return fmt.Errorf("create gRPC server: %w", err)
		}
		status = server
	}

	sup, err := supervisor.New(supervisor.Options{
		Logger:       logger,
		Command:      args,
		State:        state,
		Handler:      crashGuard,
		Status:       status,
		RestartDelay: cfg.Supervisor.RestartDelay,
		MaxRestarts:  cfg.Supervisor.MaxRestarts,
		StableAfter:  cfg.Guard.QuickCrashWindow,
		StderrTail:   cfg.Supervisor.StderrTail,
		PIDFile:      cfg.Supervisor.PIDFile,
		Stdout:       cmd.OutOrStdout(),
		Stderr:       cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer stop()
		return sup.Run(gctx)
	})

	if server != nil {
		group.Go(func() error {
			logger.Info("gRPC health server listening", slog.String("address", server.Address()))
			return server.Start()
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
			defer cancel()
			server.Shutdown(shutdownCtx)
			return nil
		})
	}

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
			return nil
		})
	}

	err = group.Wait()
	logger.Info("crashguard stopped")
	return err
}
