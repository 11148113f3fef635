package websocket

import (
	"net"
	"unicode/utf8"

	"github.com/gumdrop/gumdrop/pkg/conn"
	"github.com/gumdrop/gumdrop/pkg/constants"
	"github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/reactor"
)

// Config sizes the per-Connection reassembly buffer and picks client vs.
// server framing rules (spec §4.I: "server must receive masked frames;
// client must receive unmasked").
type Config struct {
	// IsServer selects which side's masking rule this Connection enforces
	// on receive and applies on send: a server receives masked frames and
	// sends unmasked; a client is the reverse.
	IsServer bool
	// MaxMessageSize bounds a single reassembled message, across all its
	// fragments (spec open question on WebSocket message-size limits,
	// resolved in SPEC_FULL.md's Supplemented Features as
	// constants.DefaultMaxWSMessageSize unless overridden here).
	MaxMessageSize int
}

func (c Config) withDefaults() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = constants.DefaultMaxWSMessageSize
	}
	return c
}

// Connection is one upgraded WebSocket session layered over a
// pkg/conn.Connection: it implements conn.Handler to consume the byte
// stream, decodes/reassembles frames, and forwards complete messages to a
// websocket.Handler. Every method below runs on the owning
// reactor.SelectorLoop goroutine, the same single-owner rule pkg/conn
// documents, since conn.Handler callbacks always do.
type Connection struct {
	underlying *conn.Connection
	handler    Handler
	cfg        Config

	state   State
	pending inProgress

	closeSent bool
	closeCode uint16
}

// Attach builds a websocket.Connection bound to a fresh pkg/conn.Connection
// over netConn, whose HTTP/1.1 Upgrade handshake has already completed —
// the caller used ValidateUpgradeRequest/UpgradeResponse (or AcceptKey
// directly) against the raw bytes before calling Attach, since the
// WebSocket module owns framing and the close/ping state machine, not
// HTTP/1.1 request parsing. Every byte netConn yields after that point
// flows through this Connection's OnData.
func Attach(loop *reactor.SelectorLoop, netConn net.Conn, handler Handler, cfg Config, connOpts conn.Options) *Connection {
	c := &Connection{handler: handler, cfg: cfg.withDefaults(), state: StateOpen}
	c.underlying = conn.New(loop, netConn, c, connOpts)
	return c
}

// Open starts the underlying Connection, delivering Handler.OnOpen once
// the reactor loop processes it.
func (c *Connection) Open() { c.underlying.Open() }

// Send transmits a complete, unfragmented TEXT or BINARY message. Framing
// respects cfg.IsServer's masking rule (spec §4.I).
func (c *Connection) Send(opcode Opcode, payload []byte) (blocked bool, err error) {
	if c.state != StateOpen {
		return false, errors.NewIOError("write", nil)
	}
	return c.sendFrame(Frame{Fin: true, Opcode: opcode, Payload: payload})
}

// Ping sends a PING control frame; a matching PONG (if the peer is
// compliant) arrives via Handler.OnPong.
func (c *Connection) Ping(payload []byte) (blocked bool, err error) {
	if c.state != StateOpen {
		return false, errors.NewIOError("write", nil)
	}
	return c.sendFrame(Frame{Fin: true, Opcode: OpcodePing, Payload: payload})
}

// Close sends a CLOSE frame with code/reason and transitions to CLOSING
// (spec §4.I). The underlying transport closes once the peer's answering
// CLOSE arrives, or immediately if this side already received one.
func (c *Connection) Close(code uint16, reason string) error {
	if c.state != StateOpen {
		return nil
	}
	if !isValidCloseCodeForSend(code) {
		return errors.NewValidationError("invalid websocket close code for send")
	}
	payload := encodeClosePayload(code, reason)
	c.state = StateClosing
	c.closeSent = true
	_, err := c.sendFrame(Frame{Fin: true, Opcode: OpcodeClose, Payload: payload})
	return err
}

func (c *Connection) sendFrame(frame Frame) (bool, error) {
	mask := !c.cfg.IsServer
	wire, err := WriteFrame(nil, frame, mask)
	if err != nil {
		return false, err
	}
	return c.underlying.Send(wire)
}

// OnOpen implements conn.Handler: fires once the TCP/TLS layer is ready,
// which for a WebSocket Connection means the HTTP Upgrade response has
// already been written by the caller (Attach is only called post-handshake).
func (c *Connection) OnOpen(*conn.Connection) {
	if c.handler != nil {
		c.handler.OnOpen(c)
	}
}

// OnData implements conn.Handler: decodes as many complete frames as data
// holds and dispatches each, per spec §4.I's invariants.
func (c *Connection) OnData(data []byte) {
	_, err := ParseFrames(data, c.cfg.MaxMessageSize, c.handleFrame)
	if err != nil {
		c.failProtocol(err)
	}
}

func (c *Connection) handleFrame(frame Frame) error {
	if frame.Masked != c.cfg.IsServer {
		return errors.NewWebSocketError(1002, "frame masking does not match the expected side")
	}

	switch {
	case frame.Opcode.IsControl():
		return c.handleControl(frame)
	case frame.Opcode == OpcodeText || frame.Opcode == OpcodeBinary:
		return c.handleDataStart(frame)
	case frame.Opcode == OpcodeContinuation:
		return c.handleContinuation(frame)
	default:
		return errors.NewWebSocketError(1002, "unknown opcode")
	}
}

func (c *Connection) handleDataStart(frame Frame) error {
	if c.pending.active {
		return errors.NewWebSocketError(1002, "new message started before previous one finished")
	}
	if frame.Fin {
		return c.deliverMessage(frame.Opcode, frame.Payload)
	}
	if len(frame.Payload) > c.cfg.MaxMessageSize {
		return errors.NewWebSocketError(1009, "message exceeds configured maximum")
	}
	c.pending = inProgress{active: true, opcode: frame.Opcode, payload: append([]byte(nil), frame.Payload...)}
	return nil
}

func (c *Connection) handleContinuation(frame Frame) error {
	if !c.pending.active {
		return errors.NewWebSocketError(1002, "continuation with no message in progress")
	}
	if len(c.pending.payload)+len(frame.Payload) > c.cfg.MaxMessageSize {
		c.pending = inProgress{}
		return errors.NewWebSocketError(1009, "message exceeds configured maximum")
	}
	c.pending.payload = append(c.pending.payload, frame.Payload...)
	if !frame.Fin {
		return nil
	}
	opcode, payload := c.pending.opcode, c.pending.payload
	c.pending = inProgress{}
	return c.deliverMessage(opcode, payload)
}

func (c *Connection) deliverMessage(opcode Opcode, payload []byte) error {
	if opcode == OpcodeText && !utf8.Valid(payload) {
		return errors.NewWebSocketError(1007, "text payload is not valid UTF-8")
	}
	if c.handler != nil {
		c.handler.OnMessage(opcode, payload)
	}
	return nil
}

func (c *Connection) handleControl(frame Frame) error {
	switch frame.Opcode {
	case OpcodePing:
		if c.state == StateOpen {
			_, err := c.sendFrame(Frame{Fin: true, Opcode: OpcodePong, Payload: frame.Payload})
			return err
		}
		return nil
	case OpcodePong:
		if c.handler != nil {
			c.handler.OnPong(frame.Payload)
		}
		return nil
	case OpcodeClose:
		return c.handlePeerClose(frame.Payload)
	default:
		return errors.NewWebSocketError(1002, "unknown control opcode")
	}
}

func (c *Connection) handlePeerClose(payload []byte) error {
	code, reason := decodeClosePayload(payload)
	if !c.closeSent {
		echo := encodeClosePayload(code, reason)
		if code == 1005 {
			echo = nil // no code was sent; echo an empty CLOSE rather than fabricate one
		}
		c.state = StateClosing
		if _, err := c.sendFrame(Frame{Fin: true, Opcode: OpcodeClose, Payload: echo}); err != nil {
			return err
		}
	}
	c.state = StateClosed
	c.closeCode = code
	if c.handler != nil {
		c.handler.OnClose(code, reason)
	}
	c.underlying.Close()
	return nil
}

// OnWritable implements conn.Handler; WebSocket has no message-level
// back-pressure bookkeeping of its own, so this is a no-op — the
// underlying pkg/conn.Connection already tracks the outbound watermark.
func (c *Connection) OnWritable() {}

// OnClose implements conn.Handler: the transport is gone. If a close code
// was already decided — the peer's CLOSE was answered (handlePeerClose) or
// this side failed the connection (failProtocol) — that code has already
// reached the application and this is a no-op; otherwise this is an
// abnormal closure with no close frame exchanged at all (RFC 6455 §7.1.5).
func (c *Connection) OnClose(reason conn.CloseReason, err error) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	code := uint16(1006)
	if reason == conn.CloseGraceful {
		code = 1000
	}
	if c.handler != nil {
		c.handler.OnClose(code, "")
	}
}

// OnError implements conn.Handler.
func (c *Connection) OnError(err error) {}

// failProtocol fails the connection on a framing/protocol violation: it
// sends a CLOSE frame carrying the violation's code (spec §4.I, RFC 6455
// §7.4.1) and delivers that same code to the application directly, since
// the generic OnClose path above only ever sees conn.CloseReason, which
// can't distinguish "1002 protocol error" from an ordinary graceful close.
func (c *Connection) failProtocol(err error) {
	code := uint16(1002)
	if wsErr, ok := err.(*errors.Error); ok && wsErr.CloseCode != 0 {
		code = wsErr.CloseCode
	}
	if c.state == StateClosed {
		return
	}
	_ = c.Close(code, "")
	c.state = StateClosed
	c.closeCode = code
	if c.handler != nil {
		c.handler.OnClose(code, "")
	}
	c.underlying.Close()
}

