// Package worker implements the per-connection state machine: one worker
// per accepted socket, authenticating the peer, reading its plain-text
// input, rate-limiting it, and forwarding requests to the dispatcher. A
// worker owns the read side of its socket exclusively; the dispatcher owns
// the write side once the peer is registered, so the two sides never race
// on the same net.Conn.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
	"unicode/utf8"

	"go.klb.dev/chatrelay/internal/protocol"
	"go.klb.dev/chatrelay/internal/ratelimit"
	"go.klb.dev/chatrelay/internal/token"
)

// AuthTimeout bounds how long a freshly accepted socket has to submit a
// valid token before the worker gives up on it.
const AuthTimeout = 30 * time.Second

const challengeText = "Enter access token: "
const invalidTokenText = "Invalid token.\n"

// Worker runs the state machine for one accepted connection.
type Worker struct {
	conn     net.Conn
	addr     protocol.PeerAddress
	expected token.Token
	requests chan<- protocol.LocalRequest
	log      *slog.Logger
}

// New returns a Worker ready to Serve conn. expected is the server's
// access token; requests is the dispatcher's shared input channel.
func New(conn net.Conn, expected token.Token, requests chan<- protocol.LocalRequest, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		conn:     conn,
		addr:     protocol.AddressOf(conn),
		expected: expected,
		requests: requests,
		log:      log.With("addr", protocol.AddressOf(conn)),
	}
}

// Serve runs the worker to completion: AwaitingToken, then, on success,
// Connected and ReadLoop, always ending in Closed. It blocks until the
// connection ends and never returns an error — every failure mode is
// handled by closing the socket and, where the worker contract requires
// it, telling the dispatcher.
func (w *Worker) Serve(ctx context.Context) {
	defer w.conn.Close()

	reader := bufio.NewReaderSize(w.conn, 64*1024)

	ok, err := w.awaitToken(reader)
	if err != nil {
		w.log.Info("auth read failed", "err", err)
		return
	}
	if !ok {
		w.log.Warn("invalid token presented")
		_, _ = w.conn.Write([]byte(invalidTokenText))
		return
	}

	select {
	case w.requests <- protocol.NewConnect(w.addr, w.conn):
	case <-ctx.Done():
		return
	}

	w.readLoop(ctx, reader)
}

// awaitToken writes the challenge and reads back one line, reporting
// whether it equals the expected token. A write or read failure is
// returned as an error so Serve can distinguish "no token arrived"
// (IoError) from "a token arrived and it was wrong"; a line that does not
// parse as a token counts as a wrong token.
func (w *Worker) awaitToken(reader *bufio.Reader) (bool, error) {
	_ = w.conn.SetReadDeadline(time.Now().Add(AuthTimeout))
	defer w.conn.SetReadDeadline(time.Time{})

	if _, err := w.conn.Write([]byte(challengeText)); err != nil {
		return false, fmt.Errorf("worker: write challenge: %w", err)
	}

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("worker: read token: %w", err)
	}

	candidate, parseErr := token.Parse(trimEOL(line))
	if parseErr != nil {
		return false, nil
	}
	return w.expected.Equal(candidate), nil
}

// readLoop reads one line of peer input at a time, applies the rate
// limiter and sanitizer, and forwards a Broadcast request for each
// surviving line. It returns once the socket closes, the context is
// canceled, or the peer is rate-limited into a ban.
func (w *Worker) readLoop(ctx context.Context, reader *bufio.Reader) {
	limiter := ratelimit.New(time.Now())

	banned := false
	defer func() {
		// A worker sends at most one of Disconnect/Ban: Ban already implies
		// termination, so skip the Disconnect that would otherwise follow.
		if banned {
			return
		}
		select {
		case w.requests <- protocol.NewDisconnect(w.addr):
		case <-ctx.Done():
		}
	}()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if line == "" {
				if !errors.Is(err, net.ErrClosed) {
					w.log.Info("read loop ended", "err", err)
				}
				return
			}
			// fall through: process the partial final line, then exit on
			// the next iteration's read error.
		}

		if !limiter.Allow(time.Now()) {
			w.log.Warn("rate limit exceeded, banning")
			banned = true
			select {
			case w.requests <- protocol.NewBan(w.addr, protocol.Spamming()):
			case <-ctx.Done():
			}
			return
		}

		text, ok := sanitize(line)
		if !ok {
			w.log.Warn("dropped message: invalid utf-8 after control-stripping")
			continue
		}
		if text == "" {
			continue
		}

		select {
		case w.requests <- protocol.NewBroadcast(w.addr, text):
		case <-ctx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}

// sanitize strips all bytes below 0x20 (control characters and terminal
// escapes) then validates the remainder as UTF-8, per spec.md's
// input-sanitization rule. ok is false if what remains is not valid UTF-8.
func sanitize(line string) (text string, ok bool) {
	stripped := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		if line[i] >= 0x20 {
			stripped = append(stripped, line[i])
		}
	}
	if !utf8.Valid(stripped) {
		return "", false
	}
	return string(stripped), true
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
