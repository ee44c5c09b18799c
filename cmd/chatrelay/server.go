package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/chatrelay/internal/server"
	"go.klb.dev/chatrelay/internal/token"
)

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the chat relay",
		Long: `Starts the chat relay. Every authenticated TCP client shares one
broadcast channel: whatever one peer sends, every other connected peer
receives, labeled with the sender's assigned id.

At startup the server generates one access token and logs it. Distribute
that token to clients out-of-band; it is never rotated and never logged
again.

Flags, environment variables, and config-file keys
  Flag                Env var                     Config key
  ───────────────────────────────────────────────────────────
  --addr              CHATRELAY_ADDR              addr
  --write-timeout     CHATRELAY_WRITE_TIMEOUT     write-timeout
  --log-level         CHATRELAY_LOG_LEVEL         log-level    (debug|info|warn|error)
  --log-format        CHATRELAY_LOG_FORMAT        log-format   (auto|text|json)
  --config            (flag only)

Config file search order (first found wins)
  /etc/chatrelay/chatrelay.toml
  $HOME/.config/chatrelay/chatrelay.toml
  path supplied via --config

Precedence: defaults → config file → CHATRELAY_* env vars → CLI flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServer(v) },
	}

	f := cmd.Flags()
	f.String("addr", "0.0.0.0:6969", "TCP listen address")
	f.Duration("write-timeout", 0, "bound every broadcast write to a peer (0 = no timeout)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServer(v *viper.Viper) error {
	setupLogging(v)

	addr := v.GetString("addr")
	writeTimeout := v.GetDuration("write-timeout")

	tok, err := token.Generate()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	slog.Info("chatrelay server starting",
		"version", Version,
		"addr", addr,
	)
	// The token is the one secret operators distribute out-of-band; logging
	// it here, once, at startup is the explicit exception to "never logged
	// in cleartext" — every other code path treats it as opaque.
	slog.Info("access token generated", "token", tok.String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return server.Run(ctx, server.Config{Addr: addr, Token: tok, WriteTimeout: writeTimeout})
}
