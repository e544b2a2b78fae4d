// Package main is the entry point for the MediaCorr controller API. The
// controller submits the pipeline's batch jobs to the cluster, tracks
// their lifecycle, and merges the analysis shards' partial reports into
// the final correlation artifacts.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vortexx09/MediaCorr/internal/artifacts"
	"github.com/Vortexx09/MediaCorr/internal/config"
	"github.com/Vortexx09/MediaCorr/internal/database"
	"github.com/Vortexx09/MediaCorr/internal/history"
	"github.com/Vortexx09/MediaCorr/internal/jobs"
	"github.com/Vortexx09/MediaCorr/internal/kube"
	"github.com/Vortexx09/MediaCorr/internal/pipeline"
	"github.com/Vortexx09/MediaCorr/internal/scheduler"
	"github.com/Vortexx09/MediaCorr/internal/server"
	"github.com/Vortexx09/MediaCorr/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("namespace", cfg.Namespace).
		Str("data_dir", cfg.DataDir).
		Int("shards", cfg.ShardCount).
		Msg("Starting MediaCorr controller")

	clientset, err := kube.NewClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build Kubernetes client")
	}

	historyDB, err := database.New(database.Config{
		Path: cfg.HistoryDBPath,
		Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	repo, err := history.NewRepository(historyDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize stage run history")
	}

	store := artifacts.NewStore(cfg.DataDir, log)
	controller := jobs.NewController(clientset, cfg.Namespace, log)

	var mirror pipeline.Mirror
	if cfg.MirrorBucket != "" {
		m, err := artifacts.NewMirror(context.Background(), artifacts.MirrorConfig{
			Bucket:          cfg.MirrorBucket,
			Prefix:          cfg.MirrorPrefix,
			Region:          cfg.MirrorRegion,
			Endpoint:        cfg.MirrorEndpoint,
			AccessKeyID:     cfg.MirrorAccessKey,
			SecretAccessKey: cfg.MirrorSecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize artifact mirror")
		}
		mirror = m
		log.Info().Str("bucket", cfg.MirrorBucket).Msg("Artifact mirror enabled")
	}

	orchestrator := pipeline.NewOrchestrator(controller, store, repo, mirror, cfg, log)

	sched := scheduler.New(log)
	if cfg.PipelineCron != "" {
		runPipeline := func() (string, error) {
			return orchestrator.RunPipeline(context.Background())
		}
		if err := sched.SchedulePipeline(cfg.PipelineCron, runPipeline); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.PipelineCron).Msg("Failed to schedule pipeline runs")
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		Orchestrator: orchestrator,
		History:      repo,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Controller stopped")
}
