package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/chatrelay/internal/client"
	"go.klb.dev/chatrelay/internal/token"
)

func newClientCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a chatrelay server",
		Long: `Connects to a chatrelay server, authenticates with the shared
access token, then relays stdin lines to the server and prints incoming
chat lines to stdout. This is a minimal reference client, not a TUI —
any peer that speaks the wire protocol is equally welcome.

Config file search order:
  /etc/chatrelay/chatrelay.toml
  $HOME/.config/chatrelay/chatrelay.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CHATRELAY_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runClient(v) },
	}

	f := cmd.Flags()
	f.String("addr", "", "chatrelay server address (host:port), required")
	f.String("token", "", "access token (must match the server's); if omitted, prompts on stdin after the challenge")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runClient(v *viper.Viper) error {
	setupLogging(v)

	addr := v.GetString("addr")
	if addr == "" {
		return fmt.Errorf("--addr is required")
	}
	tokenStr := v.GetString("token")

	var tok *token.Token
	if tokenStr != "" {
		parsed, err := token.Parse(tokenStr)
		if err != nil {
			return fmt.Errorf("--token: %w", err)
		}
		tok = &parsed
	}

	slog.Info("chatrelay client starting", "version", Version, "addr", addr)

	return client.Run(addr, tok, os.Stdin, os.Stdout, slog.Default())
}
