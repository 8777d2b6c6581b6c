package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perpcore/matchengine/collateral"
	"github.com/perpcore/matchengine/engine"
	"github.com/perpcore/matchengine/internal/config"
	"github.com/perpcore/matchengine/matching"
	"github.com/perpcore/matchengine/ops"
	"github.com/perpcore/matchengine/publish"
	"github.com/perpcore/matchengine/storage"
)

const version = "v1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("version", version).Str("mode", cfg.Mode).Msg("matchengine starting")

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	alert, err := ops.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init ops alert sink")
	}

	publisher := publish.NewPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	halts := engine.NewSymbolHalts(alert)
	coll := collateral.New(cfg.Fees)
	eng := engine.New(store, coll, cfg.Fees, matching.SystemClock{}, publisher, halts)
	dispatcher := engine.NewDispatcher(eng)

	consumer := publish.NewConsumer(cfg.KafkaBrokers, "matchengine")
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Run(ctx, dispatcher.Submit); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("order command consumer stopped")
		}
	}()

	log.Info().Msg("matchengine ready")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	dispatcher.Stop()
}
