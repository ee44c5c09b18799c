// Package server wires the listener, the dispatcher, and connection
// workers together: the runnable shape of the chat relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.klb.dev/chatrelay/internal/dispatcher"
	"go.klb.dev/chatrelay/internal/token"
	"go.klb.dev/chatrelay/internal/worker"
)

// Config carries everything Run needs besides the context.
type Config struct {
	Addr  string
	Token token.Token
	Log   *slog.Logger

	// WriteTimeout bounds every broadcast write to a peer's socket. Zero
	// (the default) matches spec.md's literal no-timeout behavior; set it
	// to mitigate a slow or silent reader stalling the dispatcher.
	WriteTimeout time.Duration
}

// Run binds cfg.Addr, starts the dispatcher, and accepts connections until
// ctx is canceled or the listener fails. The listener holds no mutable
// shared state besides the dispatcher's request channel, per spec.md's
// description of the listener component: accept errors are logged and the
// loop continues, every accepted socket becomes its own worker goroutine.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	defer ln.Close()
	log.Info("listening", "addr", ln.Addr())

	d := dispatcher.New(log.With("component", "dispatcher"), cfg.WriteTimeout)

	dispatchErr := make(chan error, 1)
	go func() { dispatchErr <- d.Run(ctx) }()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- acceptLoop(ctx, ln, cfg.Token, d, log) }()

	select {
	case err := <-dispatchErr:
		return fmt.Errorf("dispatcher exited: %w", err)
	case err := <-acceptErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, tok token.Token, d *dispatcher.Dispatcher, log *slog.Logger) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			log.Error("accept failed", "err", err)
			continue
		}

		w := worker.New(conn, tok, d.Requests(), log.With("component", "worker"))
		go w.Serve(ctx)
	}
}
