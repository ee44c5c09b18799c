package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.klb.dev/chatrelay/internal/token"
	"go.klb.dev/chatrelay/internal/wire"
)

func startTestServer(t *testing.T) (addr string, tok token.Token) {
	t.Helper()
	tok, err := token.Generate()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, Config{Addr: addr, Token: tok}) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return addr, tok
}

func authenticate(t *testing.T, conn net.Conn, tok token.Token) *bufio.Reader {
	t.Helper()
	br := bufio.NewReader(conn)
	_, err := br.ReadString(':')
	require.NoError(t, err)
	_, err = conn.Write([]byte(tok.String() + "\n"))
	require.NoError(t, err)
	return br
}

func TestHappyPathTwoPeers(t *testing.T) {
	addr, tok := startTestServer(t)

	connA, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connA.Close()
	authenticate(t, connA, tok)

	wA := wire.New(connA)
	welcomeA, err := wA.ReadMsg()
	require.NoError(t, err)
	require.Contains(t, welcomeA.Server.Text, "user 1")

	connB, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connB.Close()
	authenticate(t, connB, tok)

	wB := wire.New(connB)
	welcomeB, err := wB.ReadMsg()
	require.NoError(t, err)
	require.Contains(t, welcomeB.Server.Text, "user 2")

	_, err = connA.Write([]byte("hello\n"))
	require.NoError(t, err)

	got, err := wB.ReadMsg()
	require.NoError(t, err)
	require.Equal(t, "hello", got.Peer.Text)
	require.EqualValues(t, 1, got.PeerID)

	wA.SetReadDeadline(100 * time.Millisecond)
	_, err = wA.ReadMsg()
	require.ErrorIs(t, err, wire.ErrWouldBlock)
}

func TestBadTokenClosesConnection(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	br := bufio.NewReader(conn)
	_, err = br.ReadString(':')
	require.NoError(t, err)
	_, err = conn.Write([]byte("0000000000000000\n"))
	require.NoError(t, err)

	notice, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, notice, "Invalid token")
}
