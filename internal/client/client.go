// Package client implements a minimal reference client for the chat relay
// wire protocol: it is not the bundled product surface, just proof that
// the server works with any peer that speaks the protocol. The TUI
// rendering spec.md excludes lives elsewhere or nowhere; this one copies
// stdin lines to the socket and prints incoming messages to stdout.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"go.klb.dev/chatrelay/internal/protocol"
	"go.klb.dev/chatrelay/internal/token"
	"go.klb.dev/chatrelay/internal/wire"
)

// Run dials addr, authenticates, then relays in both directions until
// either side closes: lines read from stdin are written to the socket;
// MessageToClient values read from the socket are formatted to stdout. It
// returns when the connection ends or stdin reaches EOF.
//
// tok is the access token to present. If nil, the client prompts: it reads
// one line from stdin after the server's challenge arrives and uses that
// as the token, exactly as if it had been passed via --token.
func Run(addr string, tok *token.Token, stdin io.Reader, stdout io.Writer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	in := bufio.NewReader(stdin)
	if err := authenticate(conn, in, tok); err != nil {
		return fmt.Errorf("client: authenticate: %w", err)
	}

	done := make(chan error, 2)
	go func() { done <- readLoop(conn, stdout, log) }()
	go func() { done <- writeLoop(conn, in) }()

	err = <-done
	_ = conn.Close()
	return err
}

// authenticate reads the server's plain-text challenge and writes a
// token's canonical hex form, terminated by a newline, back. When tok is
// nil it prompts: the token is read as one line from in, the same reader
// writeLoop later scans stdin from, so nothing typed ahead is lost.
func authenticate(conn net.Conn, in *bufio.Reader, tok *token.Token) error {
	br := bufio.NewReader(conn)
	if _, err := br.ReadString(':'); err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}

	tokStr := ""
	if tok != nil {
		tokStr = tok.String()
	} else {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token from stdin: %w", err)
		}
		tokStr = strings.TrimSpace(line)
	}

	if _, err := conn.Write([]byte(tokStr + "\n")); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// readLoop decodes MessageToClient values from conn and renders them. Per
// spec.md §7, a ParseError means one malformed frame, not a dead
// connection: it is logged and dropped, and the loop keeps reading. Any
// other error (IoError, a closed socket) ends the loop.
func readLoop(conn net.Conn, stdout io.Writer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	c := wire.New(conn)
	for {
		msg, err := c.ReadMsg()
		if err != nil {
			var perr *wire.ParseError
			if errors.As(err, &perr) {
				log.Warn("dropped malformed frame", "err", err)
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintln(stdout, render(msg))
	}
}

// writeLoop copies one line of stdin at a time to the socket verbatim;
// sanitization and rate limiting are the server's job, not the client's.
func writeLoop(conn net.Conn, stdin io.Reader) error {
	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		if _, err := fmt.Fprintln(conn, sc.Text()); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return sc.Err()
}

func render(msg protocol.MessageToClient) string {
	switch msg.Author {
	case protocol.AuthorServer:
		if msg.Server.Kind == protocol.ServerMessageBan {
			return "* banned: " + msg.Server.Reason.String()
		}
		return "* " + msg.Server.Text
	case protocol.AuthorPeer:
		return fmt.Sprintf("[%d] %s", msg.PeerID, msg.Peer.Text)
	default:
		return fmt.Sprintf("%+v", msg)
	}
}
