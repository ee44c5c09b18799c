// Package wire handles reading and writing CBOR-framed messages over a
// net.Conn.
//
// CBOR items are self-delimiting: a decoder positioned at the start of an
// item consumes exactly the bytes of that item and leaves the stream
// cursor at the first byte of whatever follows. That property is what lets
// Conn multiplex many MessageToClient values over one long-lived
// connection with no length prefix or newline framing of our own.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"

	"go.klb.dev/chatrelay/internal/protocol"
)

// ErrWouldBlock is returned by ReadMsg when the read deadline elapses
// before a full message arrives. Callers distinguish this from a malformed
// stream by checking errors.Is(err, ErrWouldBlock).
var ErrWouldBlock = errors.New("wire: read would block")

// IoError wraps a transport-level failure: the underlying net.Conn (or
// io.Reader/io.Writer, for the free Encode/Decode functions) failed to
// deliver bytes at all. Per spec.md §7, an IoError is fatal to whatever
// read loop observed it.
type IoError struct{ Err error }

func (e *IoError) Error() string { return fmt.Sprintf("wire: io: %v", e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// ParseError wraps a malformed-frame failure: bytes arrived but did not
// decode into a MessageToClient. Per spec.md §7, a worker or client reading
// from the server treats a ParseError as non-fatal: drop the one frame and
// keep reading.
type ParseError struct{ Err error }

func (e *ParseError) Error() string { return fmt.Sprintf("wire: parse: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// classifyDecodeErr distinguishes a transport failure from a malformed
// frame. EOF/unexpected-EOF, a closed pipe or connection, and any
// net.Error mean the stream itself failed or closed; anything else
// reaching this point is cbor rejecting the bytes it did receive.
func classifyDecodeErr(err error) error {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) {
		return &IoError{Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return &IoError{Err: err}
	}
	return &ParseError{Err: err}
}

// Conn wraps a net.Conn with CBOR framing and read/write deadlines. Reads
// happen on exactly one goroutine (the reference client's read loop);
// writes happen on exactly one goroutine (the dispatcher); Conn itself
// does no locking because the two directions never interleave.
type Conn struct {
	conn          net.Conn
	dec           *cbor.Decoder
	writeDeadline time.Duration // 0 = no deadline, matching spec.md's default
}

// New wraps conn for CBOR-framed reads and writes, with no write deadline.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		dec:  cbor.NewDecoder(conn),
	}
}

// SetWriteTimeout bounds every future WriteMsg call to d, mitigating the
// slow-loris case where a silent reader would otherwise block the
// dispatcher's broadcast loop indefinitely. d == 0 disables the bound.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.writeDeadline = d
}

// Underlying returns the wrapped net.Conn.
func (c *Conn) Underlying() net.Conn { return c.conn }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// SetReadDeadline sets or clears the read deadline. d == 0 clears it.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// SetWriteDeadline sets or clears the write deadline. d == 0 clears it.
func (c *Conn) SetWriteDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetWriteDeadline(time.Time{})
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
	}
}

// WriteMsg encodes msg as a single CBOR item and writes it to the
// connection, honoring whatever write timeout SetWriteTimeout configured.
func (c *Conn) WriteMsg(msg protocol.MessageToClient) error {
	raw, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}

	c.SetWriteDeadline(c.writeDeadline)
	_, err = c.conn.Write(raw)
	c.SetWriteDeadline(0)
	return err
}

// ReadMsg decodes exactly one MessageToClient item from the connection,
// leaving the stream positioned at the next item. A deadline expiring
// mid-read surfaces as ErrWouldBlock; any other failure surfaces as either
// an *IoError or a *ParseError (see classifyDecodeErr), checkable with
// errors.As so a caller can drop a malformed frame and keep reading
// instead of tearing down the connection.
func (c *Conn) ReadMsg() (protocol.MessageToClient, error) {
	var msg protocol.MessageToClient
	err := c.dec.Decode(&msg)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return protocol.MessageToClient{}, ErrWouldBlock
		}
		var serr *cbor.SyntaxError
		if errors.As(err, &serr) {
			// The decoder does not consume a malformed item, so drop its
			// first byte; otherwise every later ReadMsg fails on it again.
			rest, _ := io.ReadAll(c.dec.Buffered())
			if len(rest) > 0 {
				rest = rest[1:]
			}
			c.dec = cbor.NewDecoder(io.MultiReader(bytes.NewReader(rest), c.conn))
		}
		return protocol.MessageToClient{}, classifyDecodeErr(err)
	}
	return msg, nil
}

// Encode writes msg as a single CBOR item to w with no deadline handling,
// for use outside the deadline-aware Conn (tests, pipes, files).
func Encode(w io.Writer, msg protocol.MessageToClient) error {
	raw, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return &IoError{Err: err}
	}
	return nil
}

// Decode reads exactly one MessageToClient item from r, classifying any
// failure the same way ReadMsg does.
func Decode(r io.Reader) (protocol.MessageToClient, error) {
	var msg protocol.MessageToClient
	if err := cbor.NewDecoder(r).Decode(&msg); err != nil {
		return protocol.MessageToClient{}, classifyDecodeErr(err)
	}
	return msg, nil
}
