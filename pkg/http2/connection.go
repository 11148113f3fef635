package http2

import (
	"bytes"

	gerrors "github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/hpack"
)

// ClientPreface is the 24-byte magic RFC 7540 §3.5 requires before a
// client's first frame.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Role distinguishes server-initiated (even) from client-initiated (odd)
// stream ids and push eligibility.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Handler receives connection-level events from Connection.HandleFrame.
// Every method is called synchronously from the owning selector loop.
type Handler interface {
	OnStreamHeaders(streamID uint32, headers []hpack.HeaderField, endStream bool)
	OnStreamData(streamID uint32, data []byte, endStream bool)
	OnStreamReset(streamID uint32, code uint32)
	OnGoAway(lastStreamID uint32, code uint32, debug []byte)
	OnPing(data [8]byte, ack bool)
}

// Connection is the per-socket HTTP/2 session state: stream table, HPACK
// codecs, flow-control windows and the write scheduler, per spec §4.H.
type Connection struct {
	role Role

	streams  *StreamMap
	sched    *WriteScheduler
	enc      *hpack.Encoder
	dec      *hpack.Decoder
	pendingHeaders []hpack.HeaderField

	localSettings  PeerSettings // this endpoint's own advertised settings
	peerSettings   PeerSettings
	localSettingsAcked bool

	connSendWindow flowWindow
	connRecvWindow flowWindow

	nextLocalStreamID uint32
	lastPeerStreamID  uint32

	goAwaySent     bool
	goAwayReceived bool
	goAwayLastSent uint32

	// headerBlockStreamID is non-zero while a HEADERS/PUSH_PROMISE without
	// END_HEADERS is in progress: spec §4.H's CONTINUATION atomicity rule.
	headerBlockStreamID uint32
	headerBlockBuf       bytes.Buffer
	headerBlockEndStream bool

	lastPushedStreamID uint32

	sawFirstFrame bool

	handler Handler
}

// ClientPrefaceLen is the byte length of ClientPreface.
const ClientPrefaceLen = len(ClientPreface)

// ConsumePreface checks buf for the client connection preface, returning
// the number of bytes consumed. ok is false if buf is too short to tell
// yet (the caller should wait for more bytes) or the preface doesn't match
// (a PROTOCOL_ERROR per RFC 7540 §3.5).
func ConsumePreface(buf []byte) (consumed int, ok bool, err error) {
	if len(buf) < ClientPrefaceLen {
		if !bytes.HasPrefix([]byte(ClientPreface), buf) {
			return 0, false, gerrors.NewFrameError("preface", ErrCodeProtocol, "client preface mismatch", nil)
		}
		return 0, false, nil
	}
	if string(buf[:ClientPrefaceLen]) != ClientPreface {
		return 0, false, gerrors.NewFrameError("preface", ErrCodeProtocol, "client preface mismatch", nil)
	}
	return ClientPrefaceLen, true, nil
}

// NewConnection builds a Connection in the given role with local settings
// to advertise. The caller is responsible for sending the resulting initial
// SETTINGS frame (and, server-side, validating the client preface) before
// feeding any other frames to HandleFrame.
func NewConnection(role Role, local PeerSettings, handler Handler) *Connection {
	c := &Connection{
		role:              role,
		streams:           newStreamMap(),
		sched:             NewWriteScheduler(),
		enc:               hpack.NewEncoder(int(DefaultPeerSettings().HeaderTableSize)),
		localSettings:     local,
		peerSettings:      DefaultPeerSettings(),
		connSendWindow:    newFlowWindow(DefaultPeerSettings().InitialWindowSize),
		connRecvWindow:    newFlowWindow(local.InitialWindowSize),
		nextLocalStreamID: firstStreamID(role),
		handler:           handler,
	}
	c.dec = hpack.NewDecoder(int(local.HeaderTableSize), func(f hpack.HeaderField) {
		c.pendingHeaders = append(c.pendingHeaders, f)
	})
	return c
}

func firstStreamID(role Role) uint32 {
	if role == RoleServer {
		return 2
	}
	return 1
}

// HandleFrame dispatches one parsed frame, enforcing spec §4.H's state
// machine, flow control and header-block atomicity invariants.
func (c *Connection) HandleFrame(f *Frame) error {
	if !c.sawFirstFrame {
		c.sawFirstFrame = true
		if c.role == RoleServer && f.Type != FrameSettings {
			return gerrors.NewFrameError("frame", ErrCodeProtocol, "first frame after the preface must be SETTINGS", nil)
		}
	}
	if c.headerBlockStreamID != 0 && f.Type != FrameContinuation {
		return gerrors.NewFrameError("frame", ErrCodeProtocol, "expected CONTINUATION while header block in progress", nil)
	}
	if c.headerBlockStreamID != 0 && f.StreamID != c.headerBlockStreamID {
		return gerrors.NewFrameError("frame", ErrCodeProtocol, "CONTINUATION for wrong stream", nil)
	}

	switch f.Type {
	case FrameSettings:
		return c.handleSettings(f)
	case FramePing:
		return c.handlePing(f)
	case FrameGoAway:
		return c.handleGoAway(f)
	case FrameWindowUpdate:
		return c.handleWindowUpdate(f)
	case FrameHeaders:
		return c.handleHeaders(f)
	case FrameContinuation:
		return c.handleContinuation(f)
	case FrameData:
		return c.handleData(f)
	case FrameRSTStream:
		return c.handleRSTStream(f)
	case FramePriority:
		return c.handlePriority(f)
	case FramePushPromise:
		return c.handlePushPromise(f)
	default:
		return nil // unknown frame types discarded silently, spec §4.G
	}
}

func (c *Connection) handleSettings(f *Frame) error {
	if f.Ack() {
		c.localSettingsAcked = true
		return nil
	}
	delta := c.peerSettings.Apply(f.Settings)
	if delta != 0 {
		var overflowErr error
		c.streams.AscendFrom(0, func(s *Stream) bool {
			if s.State == StreamClosed {
				return true
			}
			if err := s.SendWindow.Increase(delta); err != nil {
				overflowErr = err
				return false
			}
			return true
		})
		if overflowErr != nil {
			return overflowErr
		}
	}
	c.enc.SetMaxTableSize(int(c.peerSettings.HeaderTableSize))
	return nil
}

func (c *Connection) handlePing(f *Frame) error {
	if c.handler != nil {
		c.handler.OnPing(f.PingData, f.Ack())
	}
	return nil
}

func (c *Connection) handleGoAway(f *Frame) error {
	c.goAwayReceived = true
	if c.handler != nil {
		c.handler.OnGoAway(f.LastStreamID, f.ErrorCode, f.DebugData)
	}
	return nil
}

func (c *Connection) handleWindowUpdate(f *Frame) error {
	if f.StreamID == 0 {
		return c.connSendWindow.Increase(int32(f.Increment))
	}
	s, ok := c.streams.Get(f.StreamID)
	if !ok {
		return nil // window update for an already-closed/unknown stream is ignored
	}
	return s.SendWindow.Increase(int32(f.Increment))
}

func (c *Connection) streamAllowed(id uint32) error {
	if c.role == RoleServer {
		if id%2 == 0 || id <= c.lastPeerStreamID {
			return gerrors.NewFrameError("stream", ErrCodeProtocol, "client stream id must be odd and increasing", nil)
		}
	} else {
		if id%2 != 0 || id <= c.lastPeerStreamID {
			return gerrors.NewFrameError("stream", ErrCodeProtocol, "server stream id must be even and increasing", nil)
		}
	}
	return nil
}

func (c *Connection) handleHeaders(f *Frame) error {
	s, existing := c.streams.Get(f.StreamID)
	if !existing {
		if err := c.streamAllowed(f.StreamID); err != nil {
			return err
		}
		if c.goAwaySent && f.StreamID > c.goAwayLastSent {
			return nil // no new peer-initiated streams accepted above lastStreamId
		}
		s = newStream(f.StreamID, c.peerSettings.InitialWindowSize, c.localSettings.InitialWindowSize)
		c.streams.Put(s)
		c.lastPeerStreamID = f.StreamID
	}
	if f.Priority != nil {
		c.sched.Register(f.StreamID, f.Priority.StreamDep, f.Priority.Weight, f.Priority.Exclusive)
	}

	c.pendingHeaders = nil
	if err := c.dec.Decode(f.HeaderBlock); err != nil {
		return gerrors.NewFrameError("hpack", ErrCodeCompression, "malformed header block", err)
	}

	if !f.EndHeaders() {
		c.headerBlockStreamID = f.StreamID
		c.headerBlockBuf.Reset()
		c.headerBlockEndStream = f.EndStream()
		return nil
	}
	return c.finishHeaders(s, f.EndStream())
}

func (c *Connection) handleContinuation(f *Frame) error {
	if c.headerBlockStreamID == 0 {
		return gerrors.NewFrameError("frame", ErrCodeProtocol, "CONTINUATION with no header block in progress", nil)
	}
	if err := c.dec.Decode(f.HeaderBlock); err != nil {
		return gerrors.NewFrameError("hpack", ErrCodeCompression, "malformed header block", err)
	}
	if !f.EndHeaders() {
		return nil
	}
	s, _ := c.streams.Get(c.headerBlockStreamID)
	endStream := c.headerBlockEndStream
	c.headerBlockStreamID = 0
	return c.finishHeaders(s, endStream)
}

func (c *Connection) finishHeaders(s *Stream, endStream bool) error {
	if err := s.acceptHeaders(endStream); err != nil {
		return err
	}
	headers := c.pendingHeaders
	c.pendingHeaders = nil
	s.Headers = headers
	s.EndStream = s.EndStream || endStream
	if c.handler != nil {
		c.handler.OnStreamHeaders(s.ID, headers, endStream)
	}
	return nil
}

func (c *Connection) handleData(f *Frame) error {
	s, ok := c.streams.Get(f.StreamID)
	if !ok {
		return gerrors.NewStreamError(f.StreamID, ErrCodeStreamClosed, "DATA on unknown stream")
	}
	n := int32(f.Length)
	if c.connRecvWindow.Available() < n || s.RecvWindow.Available() < n {
		return gerrors.NewFrameError("flow_control", ErrCodeFlowControl, "DATA exceeds advertised receive window", nil)
	}
	c.connRecvWindow.Consume(n)
	s.RecvWindow.Consume(n)

	if err := s.acceptData(f.EndStream()); err != nil {
		return err
	}
	if c.handler != nil {
		c.handler.OnStreamData(f.StreamID, f.Data, f.EndStream())
	}
	return nil
}

func (c *Connection) handleRSTStream(f *Frame) error {
	s, ok := c.streams.Get(f.StreamID)
	if !ok {
		return nil
	}
	s.reset()
	c.sched.Remove(f.StreamID)
	if c.handler != nil {
		c.handler.OnStreamReset(f.StreamID, f.ErrorCode)
	}
	return nil
}

func (c *Connection) handlePriority(f *Frame) error {
	if f.Priority != nil {
		c.sched.Register(f.StreamID, f.Priority.StreamDep, f.Priority.Weight, f.Priority.Exclusive)
	}
	return nil
}

func (c *Connection) handlePushPromise(f *Frame) error {
	if c.role != RoleClient {
		return gerrors.NewFrameError("frame", ErrCodeProtocol, "PUSH_PROMISE received by a server", nil)
	}
	if !c.localSettings.EnablePush {
		return gerrors.NewFrameError("frame", ErrCodeProtocol, "PUSH_PROMISE received with push disabled", nil)
	}
	if f.PromisedID%2 != 0 || f.PromisedID <= c.lastPushedStreamID {
		return gerrors.NewFrameError("frame", ErrCodeProtocol, "pushed stream id must be even and increasing", nil)
	}
	c.lastPushedStreamID = f.PromisedID
	pushed := newStream(f.PromisedID, c.peerSettings.InitialWindowSize, c.localSettings.InitialWindowSize)
	pushed.State = StreamReservedRemote
	c.streams.Put(pushed)

	c.pendingHeaders = nil
	if err := c.dec.Decode(f.HeaderBlock); err != nil {
		return gerrors.NewFrameError("hpack", ErrCodeCompression, "malformed push promise header block", err)
	}
	if !f.EndHeaders() {
		c.headerBlockStreamID = f.PromisedID
		c.headerBlockEndStream = false
		return nil
	}
	return c.finishHeaders(pushed, false)
}

// CanSendData reports how many bytes may currently be written to stream
// id, bounded by both the connection and stream send windows (spec §4.H).
func (c *Connection) CanSendData(streamID uint32) int32 {
	s, ok := c.streams.Get(streamID)
	if !ok {
		return 0
	}
	conn := c.connSendWindow.Available()
	strm := s.SendWindow.Available()
	if conn < strm {
		return conn
	}
	return strm
}

// MarkDataSent deducts n bytes from both windows after a DATA frame is
// actually written to the wire.
func (c *Connection) MarkDataSent(streamID uint32, n int32) {
	c.connSendWindow.Consume(n)
	if s, ok := c.streams.Get(streamID); ok {
		s.SendWindow.Consume(n)
	}
}

// OpenLocalStream allocates the next locally-initiated stream id (used for
// server push or client-initiated requests).
func (c *Connection) OpenLocalStream() *Stream {
	id := c.nextLocalStreamID
	c.nextLocalStreamID += 2
	s := newStream(id, c.peerSettings.InitialWindowSize, c.localSettings.InitialWindowSize)
	s.State = StreamOpen
	c.streams.Put(s)
	c.sched.MarkReady(id)
	return s
}

// EncodeHeaders HPACK-encodes headers using this connection's encoder.
func (c *Connection) EncodeHeaders(headers []hpack.HeaderField) []byte {
	return c.enc.EncodeFields(headers)
}

// MarkGoAwaySent records that this side has sent GOAWAY, after which no new
// peer-initiated streams above lastStreamID are accepted (spec §4.H).
func (c *Connection) MarkGoAwaySent(lastStreamID uint32) {
	c.goAwaySent = true
	c.goAwayLastSent = lastStreamID
}

// LastPeerStreamID returns the highest peer-initiated stream id accepted so
// far, the value GOAWAY's lastStreamID field must carry (spec §7: a
// connection-fatal error sends "GOAWAY(lastPeerStreamId, ...)" so the peer
// knows which streams are safe to retry elsewhere).
func (c *Connection) LastPeerStreamID() uint32 {
	return c.lastPeerStreamID
}
