package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aiguesbcn/aigues/pkg/aigues"
	"github.com/aiguesbcn/aigues/pkg/log"
	"github.com/aiguesbcn/aigues/pkg/server"
	"github.com/aiguesbcn/aigues/pkg/storage"
	"github.com/aiguesbcn/aigues/pkg/syncer"

	"github.com/levenlabs/go-lflag"
)

func main() {
	// init packages
	c := aigues.Configured()
	s := storage.Configured()
	sy := syncer.Configured(c, s)

	// init server
	srv := server.Configured(c, s, sy)

	// parse flags
	lflag.Configure()

	level, err := log.ConfigureFromFlags()
	if err != nil {
		panic(err)
	}
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.WithAttrs(ctx, slog.String("provider", string(c.Provider())))

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	go sy.Run(ctx)

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
