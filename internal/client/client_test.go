package client

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.klb.dev/chatrelay/internal/protocol"
	"go.klb.dev/chatrelay/internal/token"
	"go.klb.dev/chatrelay/internal/wire"
)

// readOnlyConn adapts a bytes.Reader to net.Conn for tests that only drive
// readLoop, which reads conn as a plain io.Reader.
type readOnlyConn struct {
	*bytes.Reader
}

func (readOnlyConn) Write(p []byte) (int, error)      { return len(p), nil }
func (readOnlyConn) Close() error                     { return nil }
func (readOnlyConn) LocalAddr() net.Addr              { return nil }
func (readOnlyConn) RemoteAddr() net.Addr             { return nil }
func (readOnlyConn) SetDeadline(time.Time) error      { return nil }
func (readOnlyConn) SetReadDeadline(time.Time) error  { return nil }
func (readOnlyConn) SetWriteDeadline(time.Time) error { return nil }

// fakeServer accepts one connection, expects the token challenge/response,
// then hands the test the raw conn to drive further.
func fakeServer(t *testing.T) (addr string, acceptedConn chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	acceptedConn = make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		acceptedConn <- conn
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String(), acceptedConn
}

func TestRunAuthenticatesAndRelays(t *testing.T) {
	addr, accepted := fakeServer(t)
	tok, err := token.Generate()
	require.NoError(t, err)

	// Keep stdin open: Run returns as soon as stdin reaches EOF, and the
	// test still needs the client reading from the socket afterwards.
	stdin, stdinW := io.Pipe()
	go func() { _, _ = stdinW.Write([]byte("hello server\n")) }()
	var stdout bytes.Buffer

	done := make(chan error, 1)
	go func() { done <- Run(addr, &tok, stdin, &stdout, nil) }()

	conn := <-accepted
	defer conn.Close()

	_, err = conn.Write([]byte("Enter access token: "))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, tok.String(), strings.TrimSpace(line))

	relayed, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "hello server", strings.TrimSpace(relayed))

	w := wire.New(conn)
	require.NoError(t, w.WriteMsg(protocol.FromPeer(1, protocol.PeerID(1), "hi back")))

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "hi back")
	}, time.Second, 10*time.Millisecond)

	_ = conn.Close()
	_ = stdinW.Close()
	<-done
}

func TestRunPromptsForTokenWhenOmitted(t *testing.T) {
	addr, accepted := fakeServer(t)
	tok, err := token.Generate()
	require.NoError(t, err)

	stdin := strings.NewReader(tok.String() + "\nhello again\n")
	var stdout bytes.Buffer

	done := make(chan error, 1)
	go func() { done <- Run(addr, nil, stdin, &stdout, nil) }()

	conn := <-accepted
	defer conn.Close()

	_, err = conn.Write([]byte("Enter access token: "))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, tok.String(), strings.TrimSpace(line))

	relayed, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "hello again", strings.TrimSpace(relayed))

	_ = conn.Close()
	<-done
}

func TestReadLoopDropsParseErrorAndContinues(t *testing.T) {
	var raw bytes.Buffer
	raw.WriteByte(0xff) // not a valid CBOR item start for our schema: a lone "break" code
	require.NoError(t, wire.Encode(&raw, protocol.FromServer(0, protocol.NewServerText("still alive"))))

	conn := readOnlyConn{bytes.NewReader(raw.Bytes())}

	var stdout bytes.Buffer
	err := readLoop(conn, &stdout, nil)
	require.Error(t, err) // ends on the trailing io.EOF once the buffer is exhausted

	require.Contains(t, stdout.String(), "still alive")
}

func TestRenderFormatsByAuthor(t *testing.T) {
	peerMsg := protocol.FromPeer(0, protocol.PeerID(3), "hey")
	require.Equal(t, "[3] hey", render(peerMsg))

	banMsg := protocol.FromServer(0, protocol.NewServerBan(protocol.Spamming()))
	require.Equal(t, "* banned: Spamming", render(banMsg))

	textMsg := protocol.FromServer(0, protocol.NewServerText("Welcome."))
	require.Equal(t, "* Welcome.", render(textMsg))
}
