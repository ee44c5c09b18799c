// Package dispatcher implements the server's single-consumer request loop:
// one goroutine owns the client registry and the ban table, fed by every
// connection worker through a shared channel. No
// mutex guards this state because exactly one goroutine ever touches it;
// the channel is the only synchronization primitive in the server core.
package dispatcher

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"go.klb.dev/chatrelay/internal/protocol"
	"go.klb.dev/chatrelay/internal/wire"
)

// TotalBanTime is the duration a ban remains in effect after banEntry.at.
const TotalBanTime = 5 * time.Minute

// clientEntry is the dispatcher's private record of one authenticated peer.
type clientEntry struct {
	id   protocol.PeerID
	conn *wire.Conn
}

// banEntry records when an IP was banned; the ban expires lazily the next
// time a request from that IP is processed.
type banEntry struct {
	at time.Time
}

// Dispatcher owns the client registry and ban table and processes requests
// one at a time from Requests(). It must be run from exactly one goroutine
// via Run.
type Dispatcher struct {
	requests chan protocol.LocalRequest
	log      *slog.Logger

	clients map[protocol.PeerAddress]clientEntry
	banList map[string]banEntry

	writeTimeout time.Duration
	now          func() time.Time
}

// New returns a Dispatcher ready to run. log receives one line per
// connect, disconnect, ban, refusal, and failed write (a delivered
// broadcast is not logged); a nil logger falls back to slog.Default(). writeTimeout
// bounds every broadcast write to a peer's socket (0 disables the bound),
// the slow-loris mitigation spec.md §9 recommends.
func New(log *slog.Logger, writeTimeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		requests:     make(chan protocol.LocalRequest, 256),
		log:          log,
		clients:      make(map[protocol.PeerAddress]clientEntry),
		banList:      make(map[string]banEntry),
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// Requests returns the channel connection workers send LocalRequests on.
func (d *Dispatcher) Requests() chan<- protocol.LocalRequest { return d.requests }

// Run consumes requests until ctx is canceled or the request channel is
// closed, which the spec treats as fatal: every worker is gone, so the
// server has nothing left to dispatch for.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-d.requests:
			if !ok {
				return errChannelClosed
			}
			d.handle(req)
		}
	}
}

var errChannelClosed = dispatcherError("dispatcher: request channel closed")

type dispatcherError string

func (e dispatcherError) Error() string { return string(e) }

// handle processes exactly one request: the ban filter runs first, then
// dispatch by kind, matching spec.md §4.4 in order.
func (d *Dispatcher) handle(req protocol.LocalRequest) {
	if d.applyBanFilter(req) {
		return
	}

	switch req.Kind {
	case protocol.Connect:
		d.handleConnect(req)
	case protocol.Disconnect:
		d.handleDisconnect(req)
	case protocol.Ban:
		d.handleBan(req)
	case protocol.Broadcast:
		d.handleBroadcast(req)
	}
}

// applyBanFilter looks up the request's source IP in the ban table. It
// returns true if the request was refused because the ban is still active,
// in which case handle does not fall through to the per-kind dispatch. An
// expired entry is removed and false is returned, so the request proceeds.
func (d *Dispatcher) applyBanFilter(req protocol.LocalRequest) bool {
	ip := req.Addr.IP()
	entry, banned := d.banList[ip]
	if !banned {
		return false
	}

	remaining := entry.at.Add(TotalBanTime).Sub(d.now())
	if remaining > 0 {
		d.refuseBanned(req, remaining)
		return true
	}

	delete(d.banList, ip)
	d.log.Info("ban expired", "ip", ip)
	return false
}

// refuseBanned rejects a request from a still-banned IP: a Connect is
// told no and its fresh stream is shut down; an already-connected peer
// (its ban having been applied mid-session by another worker's request,
// or a race on accept) is evicted the same way.
func (d *Dispatcher) refuseBanned(req protocol.LocalRequest, remaining time.Duration) {
	notice := protocol.FromServer(d.now().Unix(), protocol.NewServerText(bannedNoticeText(remaining)))

	switch req.Kind {
	case protocol.Connect:
		d.sendAndClose(d.newConn(req.Stream), notice)
	default:
		if entry, ok := d.clients[req.Addr]; ok {
			delete(d.clients, req.Addr)
			d.sendAndClose(entry.conn, notice)
		}
	}
	d.log.Info("request refused: banned", "addr", req.Addr, "remaining", remaining.Round(time.Second))
}

func bannedNoticeText(remaining time.Duration) string {
	secs := int64(remaining.Round(time.Second) / time.Second)
	return "You are currently banned. Remaining time: " + strconv.FormatInt(secs, 10) + " seconds"
}

// newConn wraps a raw stream for CBOR-framed writes, applying the
// dispatcher's configured write timeout.
func (d *Dispatcher) newConn(stream net.Conn) *wire.Conn {
	conn := wire.New(stream)
	conn.SetWriteTimeout(d.writeTimeout)
	return conn
}

func (d *Dispatcher) handleConnect(req protocol.LocalRequest) {
	conn := d.newConn(req.Stream)

	if prev, occupied := d.clients[req.Addr]; occupied {
		d.log.Warn("already connected", "addr", req.Addr)
		_ = conn.Close()
		d.clients[req.Addr] = prev
		return
	}

	id := protocol.PeerID(len(d.clients) + 1)
	d.clients[req.Addr] = clientEntry{id: id, conn: conn}
	d.log.Info("peer connected", "addr", req.Addr, "id", id)

	welcome := protocol.FromServer(d.now().Unix(), protocol.NewServerText("Welcome. You are user "+strconv.FormatUint(uint64(id), 10)+"."))
	if err := conn.WriteMsg(welcome); err != nil {
		d.log.Warn("welcome write failed", "addr", req.Addr, "err", err)
	}
}

func (d *Dispatcher) handleDisconnect(req protocol.LocalRequest) {
	entry, ok := d.clients[req.Addr]
	if !ok {
		d.log.Warn("disconnect for unknown peer", "addr", req.Addr)
		return
	}
	delete(d.clients, req.Addr)
	_ = entry.conn.Close()
	d.log.Info("peer disconnected", "addr", req.Addr, "id", entry.id)
}

func (d *Dispatcher) handleBan(req protocol.LocalRequest) {
	ip := req.Addr.IP()
	d.banList[ip] = banEntry{at: d.now()}

	entry, ok := d.clients[req.Addr]
	if !ok {
		d.log.Info("ban applied to disconnected peer", "addr", req.Addr, "reason", req.Reason)
		return
	}
	delete(d.clients, req.Addr)

	notice := protocol.FromServer(d.now().Unix(), protocol.NewServerBan(req.Reason))
	d.log.Info("peer banned", "addr", req.Addr, "id", entry.id, "reason", req.Reason)
	d.sendAndClose(entry.conn, notice)
}

func (d *Dispatcher) handleBroadcast(req protocol.LocalRequest) {
	author, ok := d.clients[req.Addr]
	if !ok {
		d.log.Warn("broadcast from unauthenticated peer", "addr", req.Addr)
		return
	}

	msg := protocol.FromPeer(d.now().Unix(), author.id, req.Text)
	for addr, entry := range d.clients {
		if addr == req.Addr {
			continue
		}
		if err := entry.conn.WriteMsg(msg); err != nil {
			d.log.Warn("broadcast write failed", "addr", addr, "id", entry.id, "err", err)
		}
	}
}

// sendAndClose best-effort writes notice before closing conn; a failed
// write is logged but never prevents the close.
func (d *Dispatcher) sendAndClose(conn *wire.Conn, notice protocol.MessageToClient) {
	if err := conn.WriteMsg(notice); err != nil {
		d.log.Warn("notice write failed", "err", err)
	}
	_ = conn.Close()
}
