// Package protocol defines the wire format exchanged between the server
// and remote peers, and the local request type connection workers use to
// talk to the dispatcher.
package protocol

// PeerID labels the author of a broadcast message. PeerID 0 is reserved to
// mean "the server itself" and is never assigned to a connected client.
type PeerID uint64

// ServerPeerID is the reserved id denoting the server as author.
const ServerPeerID PeerID = 0

// AuthorKind discriminates who authored a MessageToClient.
type AuthorKind string

const (
	AuthorServer AuthorKind = "server"
	AuthorPeer   AuthorKind = "peer"
)

// ServerMessageKind is the closed set of things the server itself can say.
type ServerMessageKind string

const (
	ServerMessageBan  ServerMessageKind = "ban"
	ServerMessageText ServerMessageKind = "text"
)

// ServerMessage is a message authored by the server, either a ban notice
// or a plain text notice (welcome banners, ban-remaining-time notices).
type ServerMessage struct {
	Kind   ServerMessageKind `cbor:"kind"`
	Reason *BanReason        `cbor:"reason,omitempty"`
	Text   string            `cbor:"text,omitempty"`
}

// NewServerText builds a ServerMessage carrying free text.
func NewServerText(text string) ServerMessage {
	return ServerMessage{Kind: ServerMessageText, Text: text}
}

// NewServerBan builds a ServerMessage announcing a ban.
func NewServerBan(reason BanReason) ServerMessage {
	return ServerMessage{Kind: ServerMessageBan, Reason: &reason}
}

// PeerMessage is the content a remote peer's broadcast carries. Text is
// the only variant implemented; the type exists so the wire format can grow
// new peer message kinds without breaking MessageToClient's shape.
type PeerMessage struct {
	Text string `cbor:"text"`
}

// MessageToClient is the self-delimiting CBOR-framed value written to every
// remote peer's socket.
type MessageToClient struct {
	Timestamp int64          `cbor:"timestamp"`
	Author    AuthorKind     `cbor:"author"`
	PeerID    PeerID         `cbor:"peer_id,omitempty"`
	Server    *ServerMessage `cbor:"server,omitempty"`
	Peer      *PeerMessage   `cbor:"peer,omitempty"`
}

// FromServer builds the message a server-authored notice is framed as.
func FromServer(timestamp int64, msg ServerMessage) MessageToClient {
	return MessageToClient{Timestamp: timestamp, Author: AuthorServer, Server: &msg}
}

// FromPeer builds the message a peer broadcast is framed as.
func FromPeer(timestamp int64, id PeerID, text string) MessageToClient {
	return MessageToClient{
		Timestamp: timestamp,
		Author:    AuthorPeer,
		PeerID:    id,
		Peer:      &PeerMessage{Text: text},
	}
}

// BanReasonKind is the closed set of reasons a peer can be banned for.
type BanReasonKind string

const (
	BanReasonSpamming BanReasonKind = "spamming"
	BanReasonOther    BanReasonKind = "other"
)

// BanReason explains why a peer was banned. Other carries a free-text detail.
type BanReason struct {
	Kind   BanReasonKind `cbor:"kind"`
	Detail string        `cbor:"detail,omitempty"`
}

// Spamming is the BanReason emitted by the rate limiter.
func Spamming() BanReason { return BanReason{Kind: BanReasonSpamming} }

// OtherBanReason builds a free-text ban reason.
func OtherBanReason(detail string) BanReason { return BanReason{Kind: BanReasonOther, Detail: detail} }

// String renders a ban reason for logs and ban notices, e.g. "Spamming".
func (r BanReason) String() string {
	if r.Kind == BanReasonSpamming {
		return "Spamming"
	}
	return r.Detail
}
