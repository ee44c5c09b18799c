package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromPeerRoundTripShape(t *testing.T) {
	msg := FromPeer(1700000000, PeerID(1), "hello")
	require.Equal(t, AuthorPeer, msg.Author)
	require.Equal(t, PeerID(1), msg.PeerID)
	require.NotNil(t, msg.Peer)
	require.Equal(t, "hello", msg.Peer.Text)
	require.Nil(t, msg.Server)
}

func TestFromServerBan(t *testing.T) {
	msg := FromServer(1700000000, NewServerBan(Spamming()))
	require.Equal(t, AuthorServer, msg.Author)
	require.NotNil(t, msg.Server)
	require.Equal(t, ServerMessageBan, msg.Server.Kind)
	require.Equal(t, "Spamming", msg.Server.Reason.String())
}

func TestBanReasonOtherString(t *testing.T) {
	r := OtherBanReason("manual kick")
	require.Equal(t, "manual kick", r.String())
}

func TestRequestStringing(t *testing.T) {
	req := NewBroadcast(PeerAddress("1.2.3.4:5555"), "hi")
	require.Equal(t, "1.2.3.4:5555: Broadcast: hi", req.String())

	ban := NewBan(PeerAddress("1.2.3.4:5555"), Spamming())
	require.Equal(t, "1.2.3.4:5555: Ban Me for Spamming", ban.String())
}

func TestPeerAddressIP(t *testing.T) {
	addr := PeerAddress("10.0.0.5:4444")
	require.Equal(t, "10.0.0.5", addr.IP())
}
