package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifecockpit/dispatch/internal/api"
	"github.com/lifecockpit/dispatch/internal/auth"
	"github.com/lifecockpit/dispatch/internal/dataverse"
	"github.com/lifecockpit/dispatch/internal/guardrails"
	"github.com/lifecockpit/dispatch/internal/messaging"
	"github.com/lifecockpit/dispatch/internal/messaging/provider"
	"github.com/lifecockpit/dispatch/internal/messaging/repository"
	dvrepo "github.com/lifecockpit/dispatch/internal/messaging/repository/dataverse"
	"github.com/lifecockpit/dispatch/internal/platform/config"
	"github.com/lifecockpit/dispatch/internal/platform/logger"
	"github.com/lifecockpit/dispatch/internal/processor/app"
	"github.com/lifecockpit/dispatch/internal/sandbox"
)

const (
	serviceName     = "dispatch-service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel).With("service", serviceName)
	log.Info("starting service", "sandbox", cfg.LocalSandbox, "dry_run_default", cfg.DryRunDefault)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var (
		queueRepo    repository.QueueRepository
		logRepo      repository.MessageLogRepository
		breakerState api.BreakerStateFunc
	)

	if cfg.LocalSandbox {
		store := sandbox.NewStore(log)
		queueRepo = store
		logRepo = store
		log.Info("running against in-memory sandbox store")
	} else {
		credential, err := auth.NewClientSecretCredential(
			cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret, log)
		if err != nil {
			log.Error("failed to initialize credential provider", "error", err)
			os.Exit(1)
		}

		retry := dataverse.DefaultRetryPolicy()
		retry.MaxAttempts = cfg.RetryMaxAttempts
		retry.BackoffFactor = cfg.RetryBackoffFactor

		client := dataverse.NewClient(dataverse.ClientConfig{
			BaseURL:                 cfg.DataverseURL,
			Retry:                   retry,
			BreakerFailureThreshold: cfg.BreakerFailureThreshold,
			BreakerRecoveryTimeout:  cfg.BreakerRecoveryTimeout,
			Timeout:                 cfg.HTTPTimeout,
			MetadataTimeout:         cfg.MetadataTimeout,
		}, credential, log)
		defer client.Close()
		breakerState = client.BreakerState

		ops := dataverse.NewOperations(client, log)

		probeCtx, probeCancel := context.WithTimeout(mainCtx, cfg.MetadataTimeout)
		probe := ops.Probe(probeCtx)
		probeCancel()
		log.Info("dataverse probe",
			"whoami_ok", probe.WhoAmI.OK, "whoami_error", probe.WhoAmI.Error,
			"metadata_ok", probe.Metadata.OK, "metadata_error", probe.Metadata.Error)

		queueRepo = dvrepo.NewQueueRepository(ops, log)
		logRepo = dvrepo.NewMessageLogRepository(ops, log)
	}

	// Registration order decides routing priority for overlapping types.
	factory := messaging.NewFactory(log,
		provider.NewGraphProvider(provider.GraphConfig{
			TenantID:     cfg.GraphTenantID,
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
		}, log),
		provider.NewRespondProvider(provider.RespondConfig{
			APIKey:      cfg.RespondAPIKey,
			WorkspaceID: cfg.RespondWorkspaceID,
			BaseURL:     cfg.RespondBaseURL,
		}, log),
	)

	guard := guardrails.NewManager(cfg.DryRunDefault, cfg.RequireApproval, log)
	processor := app.NewProcessor(queueRepo, logRepo, factory, guard, log, cfg.ProcessorBatchSize)
	server := api.NewServer(processor, guard, factory, breakerState, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Handler(),
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("starting http server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if cfg.ProcessorPollingInterval <= 0 {
			log.Info("polling disabled; batches run only via the API")
			<-groupCtx.Done()
			return groupCtx.Err()
		}

		log.Info("starting poll loop", "interval", cfg.ProcessorPollingInterval)
		ticker := time.NewTicker(cfg.ProcessorPollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				outcome := processor.ProcessScheduledMessages(groupCtx, guardrails.ExecOptions{})
				if !outcome.Success {
					log.WarnContext(groupCtx, "poll batch did not run",
						"run_id", outcome.RunID, "error", outcome.Error)
				}
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Info("shutdown signal received", "signal", sig.String())
			mainCancel()
		case <-groupCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown failed", "error", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("service stopped")
}
