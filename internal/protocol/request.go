package protocol

import (
	"fmt"
	"net"
)

// PeerAddress is the canonical "ip:port" form of a remote socket address,
// used as the primary key in the dispatcher's client registry.
type PeerAddress string

// AddressOf returns the PeerAddress for conn's remote end.
func AddressOf(conn net.Conn) PeerAddress {
	return PeerAddress(conn.RemoteAddr().String())
}

// IP returns the address portion of a PeerAddress, used as the primary key
// in the ban table.
func (a PeerAddress) IP() string {
	host, _, err := net.SplitHostPort(string(a))
	if err != nil {
		return string(a)
	}
	return host
}

// RequestKind discriminates the closed set of requests a connection worker
// can send to the dispatcher.
type RequestKind int

const (
	Connect RequestKind = iota
	Disconnect
	Ban
	Broadcast
)

func (k RequestKind) String() string {
	switch k {
	case Connect:
		return "Connect"
	case Disconnect:
		return "Disconnect"
	case Ban:
		return "Ban"
	case Broadcast:
		return "Broadcast"
	default:
		return "Unknown"
	}
}

// LocalRequest is the message a connection worker sends to the dispatcher
// over the shared request channel. At most one of Stream, Reason, or Text
// is populated, depending on Kind; a Disconnect carries none of them.
type LocalRequest struct {
	Addr   PeerAddress
	Kind   RequestKind
	Stream net.Conn  // Connect only
	Reason BanReason // Ban only
	Text   string    // Broadcast only
}

// NewConnect builds the request a worker sends once its peer authenticates.
func NewConnect(addr PeerAddress, stream net.Conn) LocalRequest {
	return LocalRequest{Addr: addr, Kind: Connect, Stream: stream}
}

// NewDisconnect builds the request a worker sends when its read loop ends.
func NewDisconnect(addr PeerAddress) LocalRequest {
	return LocalRequest{Addr: addr, Kind: Disconnect}
}

// NewBan builds the request a worker sends when it decides its own peer
// must be banned (currently only the rate limiter does this).
func NewBan(addr PeerAddress, reason BanReason) LocalRequest {
	return LocalRequest{Addr: addr, Kind: Ban, Reason: reason}
}

// NewBroadcast builds the request a worker sends for each sanitized line
// of peer input.
func NewBroadcast(addr PeerAddress, text string) LocalRequest {
	return LocalRequest{Addr: addr, Kind: Broadcast, Text: text}
}

// String renders a LocalRequest the way the dispatcher logs it, e.g.
// "127.0.0.1:5555: Broadcast: hello".
func (r LocalRequest) String() string {
	switch r.Kind {
	case Ban:
		return fmt.Sprintf("%s: Ban Me for %s", r.Addr, r.Reason)
	case Broadcast:
		return fmt.Sprintf("%s: Broadcast: %s", r.Addr, r.Text)
	default:
		return fmt.Sprintf("%s: %s", r.Addr, r.Kind)
	}
}
