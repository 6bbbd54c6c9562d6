// Command renderfleet runs the orchestrator: the Temporal worker driving
// render jobs and chains, the HTTP surface including the approval loop,
// and the artifact sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/renderfleet/orchestrator/internal/application/approval"
	"github.com/renderfleet/orchestrator/internal/application/artifactstore"
	"github.com/renderfleet/orchestrator/internal/application/registry"
	"github.com/renderfleet/orchestrator/internal/config"
	"github.com/renderfleet/orchestrator/internal/infrastructure/api/rest"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	enginetemporal "github.com/renderfleet/orchestrator/internal/temporal"
	"github.com/renderfleet/orchestrator/internal/temporal/activities"
	"github.com/renderfleet/orchestrator/pkg/balancer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "renderfleet:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags override the environment.
	metadataURL := flag.String("metadata-url", cfg.Database.URL, "metadata store DSN (postgres or sqlite)")
	artifactsDir := flag.String("artifacts-dir", cfg.Artifacts.Dir, "artifact store directory")
	templatesDir := flag.String("templates-dir", cfg.Templates.Dir, "workflow templates directory")
	engineAddress := flag.String("engine-address", cfg.Temporal.HostPort, "Temporal frontend address")
	taskQueue := flag.String("task-queue", cfg.Temporal.TaskQueue, "Temporal task queue")
	serversFile := flag.String("servers-file", cfg.Server.ServersFile, "YAML backend fleet file")
	listen := flag.String("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), "HTTP listen address")
	flag.Parse()

	cfg.Database.URL = *metadataURL
	cfg.Artifacts.Dir = *artifactsDir
	cfg.Templates.Dir = *templatesDir
	cfg.Temporal.HostPort = *engineAddress
	cfg.Temporal.TaskQueue = *taskQueue

	log := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Format == "console",
	})

	db, err := storage.NewDB(&storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MinConnections,
		ConnMaxLifetime: cfg.Database.MaxConnLifetime,
		ConnMaxIdleTime: cfg.Database.MaxIdleTime,
		Debug:           cfg.Database.Debug,
	})
	if err != nil {
		return err
	}
	defer storage.Close(db)

	if err := storage.InitSchema(context.Background(), db); err != nil {
		return err
	}

	chains := storage.NewChainRepository(db)
	jobs := storage.NewJobRepository(db)
	artifacts := storage.NewArtifactRepository(db)
	transfers := storage.NewTransferRepository(db)
	approvals := storage.NewApprovalRepository(db)

	store, err := artifactstore.New(cfg.Artifacts.Dir, log)
	if err != nil {
		return err
	}

	reg := registry.New(cfg.Templates.Dir, log)
	if summary, err := reg.Discover(); err != nil {
		log.Warn("template discovery failed", "error", err)
	} else if len(summary.Errors) > 0 {
		log.Warn("some templates were refused", "errors", summary.Errors)
	}

	lb := balancer.New(10 * time.Second)
	if entries, err := config.LoadServers(*serversFile); err != nil {
		log.Warn("no backend fleet file loaded", "path", *serversFile, "error", err)
	} else {
		for _, entry := range entries {
			lb.Register(entry.Name, entry.Address, entry.Description)
			log.Info("backend registered", "name", entry.Name, "address", entry.Address)
		}
	}

	temporalClient, err := enginetemporal.Dial(cfg.Temporal, log)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	acts := activities.New(lb, reg, store, chains, jobs, artifacts, transfers, approvals, log)
	acts.ApprovalViewBaseURL = cfg.Approval.ViewBaseURL

	w := enginetemporal.NewWorker(temporalClient, cfg.Temporal.TaskQueue, acts)
	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()
	log.Info("worker started", "task_queue", cfg.Temporal.TaskQueue)

	approvalService := approval.NewService(
		approvals, artifacts,
		approval.NewParameterValidator(reg),
		temporalClient, log,
	)

	router := rest.NewRouter(rest.Handlers{
		Approval:  rest.NewApprovalHandlers(approvalService, log),
		Chains:    rest.NewChainHandlers(chains, jobs, approvals, temporalClient, cfg.Temporal.TaskQueue, log),
		Jobs:      rest.NewJobHandlers(jobs, artifacts, reg, store, temporalClient, cfg.Temporal.TaskQueue, log),
		Servers:   rest.NewServerHandlers(lb, log),
		Templates: rest.NewTemplateHandlers(reg, log),
	}, log)

	server := &http.Server{
		Addr:         *listen,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Age sweep for orphaned artifact files; rows keep their files alive.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Artifacts.SweepSchedule, func() {
		cutoff := time.Now().Add(-cfg.Artifacts.SweepMaxAge)
		removed, err := store.Sweep(cutoff, func(localFilename string) (bool, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return artifacts.IsLocalFilenameReferenced(ctx, localFilename)
		})
		if err != nil {
			log.Error("artifact sweep failed", "error", err)
			return
		}
		log.Info("artifact sweep ran", "removed", removed)
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
