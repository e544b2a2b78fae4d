// Package main is the analysis stage worker. Each replica of the
// correlator job computes the lagged correlation and Granger causality
// for its assigned lags and writes a partial report to the shared
// volume. With -aggregate it instead merges all partial reports into
// the final analysis artifacts.
package main

import (
	"context"
	"flag"

	"github.com/rs/zerolog"

	"github.com/Vortexx09/MediaCorr/internal/artifacts"
	"github.com/Vortexx09/MediaCorr/internal/config"
	"github.com/Vortexx09/MediaCorr/internal/correlator"
	"github.com/Vortexx09/MediaCorr/internal/shard"
	"github.com/Vortexx09/MediaCorr/pkg/logger"
)

func main() {
	aggregate := flag.Bool("aggregate", false, "merge partial reports into the final artifacts instead of running a shard")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info"})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	store := artifacts.NewStore(cfg.DataDir, log)
	worker := correlator.New(store, cfg.MaxLag, log)

	if *aggregate {
		runAggregate(log, cfg, worker)
		return
	}

	sc, err := shard.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid shard environment")
	}

	log.Info().Str("shard", sc.String()).Int("max_lag", cfg.MaxLag).Msg("Correlator shard starting")

	if err := worker.RunShard(sc); err != nil {
		log.Fatal().Err(err).Str("shard", sc.String()).Msg("Shard analysis failed")
	}

	log.Info().Str("shard", sc.String()).Msg("Correlator shard finished")
}

func runAggregate(log zerolog.Logger, cfg *config.Config, worker *correlator.Worker) {
	ctx := context.Background()

	var mirror correlator.MirrorTarget
	if cfg.MirrorBucket != "" {
		m, err := artifacts.NewMirror(ctx, artifacts.MirrorConfig{
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
	}

	if err := worker.Aggregate(ctx, mirror); err != nil {
		log.Fatal().Err(err).Msg("Aggregation failed")
	}

	log.Info().Msg("Final analysis artifacts written")
}
