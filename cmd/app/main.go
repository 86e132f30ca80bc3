package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "net/http/pprof"

	"marketcore/internal/app"
	"marketcore/internal/bus"
	"marketcore/internal/engine"
	"marketcore/internal/feed"
)

func main() {
	// Pprof server, localhost only.
	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", "err", err)
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("bootstrapping failed", "err", err)
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := bootstrap.Log
	cfg := bootstrap.Config

	msgBus := bus.New(log)
	seq := engine.NewSequencer(cfg.Feed.InboxSize, bootstrap.Instruments,
		bootstrap.Account, bootstrap.EventStore, msgBus, log)

	if err := seq.RecoverFromWAL(ctx); err != nil {
		log.Error("recovery failed", "err", err)
		os.Exit(1)
	}

	// The hot path loop runs in exactly one goroutine.
	go seq.Run(ctx)
	log.Info("sequencer started", "inbox_size", cfg.Feed.InboxSize)

	handler := feed.NewMarketDataHandler(cfg.Feed.WSURL, bootstrap.Instruments, seq.Inbox(), log)
	worker := feed.NewWorker(handler, log)
	worker.Start(ctx)
	defer worker.Stop()
	log.Info("feed worker started", "url", cfg.Feed.WSURL, "instruments", len(cfg.Feed.Instruments))

	// Resync requests surface operationally until the feed supports
	// snapshot re-subscription per instrument.
	if _, err := msgBus.Subscribe("data.book.resync_request.*", func(topic string, msg any) {
		log.Warn("book resync requested", "topic", topic, "cause", msg)
	}); err != nil {
		log.Error("resync subscription failed", "err", err)
	}

	log.Info("node operational, press Ctrl+C to exit")
	<-ctx.Done()
	log.Info("shutting down")
}
