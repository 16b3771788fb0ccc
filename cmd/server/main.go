package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"hati/internal/config"
	"hati/internal/engine"
	"hati/internal/feed"
	"hati/internal/journal"
	hatinet "hati/internal/net"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	symbols, err := cfg.SymbolTable()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid symbol table")
	}
	schedule, err := cfg.FeeSchedule()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fee schedule")
	}

	hub := feed.NewHub(cfg.Feed.SnapshotEvery)
	eng, err := engine.New(symbols, schedule, hub, cfg.Engine.InboxSize)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to build engine")
	}

	t, ctx := tomb.WithContext(ctx)
	eng.Start(t)

	// Reconstruct book state from the command log before accepting
	// traffic, then start journalling the fresh event stream.
	if cfg.Journal.ReplayPath != "" {
		in, err := os.Open(cfg.Journal.ReplayPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Journal.ReplayPath).Msg("unable to open replay log")
		}
		n, err := journal.Replay(in, eng)
		in.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("replay failed")
		}
		log.Info().Int("commands", n).Msg("replay complete")
		eng.LogBooks()
	}
	if cfg.Journal.EventPath != "" {
		out, err := os.OpenFile(cfg.Journal.EventPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Journal.EventPath).Msg("unable to open event journal")
		}
		defer out.Close()
		journal.NewRecorder(out).Run(t, hub, eng, cfg.Feed.SubscriberQueue)
	}

	srv := hatinet.NewServer(cfg.Server.Address, cfg.Server.Port, cfg.Server.Workers, eng)
	feedSrv := hatinet.NewFeedServer(cfg.Feed.Address, cfg.Feed.Port, hub, eng, cfg.Feed.SubscriberQueue)

	t.Go(func() error {
		return feedSrv.Run(ctx)
	})
	go srv.Run(ctx)

	// Block on running the server.
	<-ctx.Done()
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("engine exited with error")
	}
}
