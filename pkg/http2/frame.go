// Package http2 implements the HTTP/2 frame codec (RFC 7540) and per-stream
// state machine gumdrop's selector loop drives on top of pkg/reactor and
// pkg/conn, using pkg/hpack for header compression.
package http2

import (
	"encoding/binary"

	gerrors "github.com/gumdrop/gumdrop/pkg/errors"
)

// FrameType identifies the eight bits following the 24-bit length field of
// the fixed RFC 7540 §4.1 frame header.
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return "UNKNOWN"
	}
}

// Flags is the frame header's 8-bit flags field. Meaning depends on
// FrameType; only the bits this codec interprets are named.
type Flags uint8

const (
	FlagEndStream  Flags = 0x1 // DATA, HEADERS
	FlagAck        Flags = 0x1 // SETTINGS, PING
	FlagEndHeaders Flags = 0x4 // HEADERS, PUSH_PROMISE, CONTINUATION
	FlagPadded     Flags = 0x8 // DATA, HEADERS, PUSH_PROMISE
	FlagPriority   Flags = 0x20 // HEADERS
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Error codes, RFC 7540 §7.
const (
	ErrCodeNo                 uint32 = 0x0
	ErrCodeProtocol           uint32 = 0x1
	ErrCodeInternal           uint32 = 0x2
	ErrCodeFlowControl        uint32 = 0x3
	ErrCodeSettingsTimeout    uint32 = 0x4
	ErrCodeStreamClosed       uint32 = 0x5
	ErrCodeFrameSize          uint32 = 0x6
	ErrCodeRefusedStream      uint32 = 0x7
	ErrCodeCancel             uint32 = 0x8
	ErrCodeCompression        uint32 = 0x9
	ErrCodeConnect            uint32 = 0xa
	ErrCodeEnhanceYourCalm    uint32 = 0xb
	ErrCodeInadequateSecurity uint32 = 0xc
	ErrCodeHTTP11Required     uint32 = 0xd
)

// FrameHeaderLen is the fixed size of the RFC 7540 §4.1 frame header.
const FrameHeaderLen = 9

// PriorityParam carries a HEADERS frame's optional stream-dependency block
// (RFC 7540 §6.2) or a standalone PRIORITY frame's payload (§6.3).
type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8 // wire value + 1 = actual weight (1..256)
}

// Frame is a fully parsed HTTP/2 frame: the header fields plus a
// type-specific payload view. HeaderBlock and Data alias into the input
// buffer (zero-copy); callers that retain a Frame past the next parse call
// must copy.
type Frame struct {
	Length   uint32
	Type     FrameType
	Flags    Flags
	StreamID uint32

	Data        []byte // DATA
	HeaderBlock []byte // HEADERS/PUSH_PROMISE/CONTINUATION: fragment of the HPACK block
	Priority    *PriorityParam
	PromisedID  uint32 // PUSH_PROMISE

	ErrorCode    uint32 // RST_STREAM, GOAWAY
	LastStreamID uint32 // GOAWAY
	DebugData    []byte // GOAWAY

	Increment uint32 // WINDOW_UPDATE

	PingData [8]byte // PING

	Settings []Setting // SETTINGS
}

func (f *Frame) EndStream() bool  { return f.Flags.Has(FlagEndStream) && (f.Type == FrameData || f.Type == FrameHeaders) }
func (f *Frame) EndHeaders() bool { return f.Flags.Has(FlagEndHeaders) }
func (f *Frame) Ack() bool        { return f.Flags.Has(FlagAck) }

// ParseFrames consumes as many complete frames as buf holds, calling fn for
// each. It returns the number of bytes consumed (always a whole number of
// frames); the caller keeps whatever trailing bytes were not consumed for
// the next read, per spec §4.G's "push-based, leaves position at the start
// of an incomplete frame" parser contract. maxFrameSize is this endpoint's
// negotiated SETTINGS_MAX_FRAME_SIZE.
func ParseFrames(buf []byte, maxFrameSize uint32, fn func(*Frame) error) (consumed int, err error) {
	for {
		if len(buf)-consumed < FrameHeaderLen {
			return consumed, nil
		}
		hdr := buf[consumed : consumed+FrameHeaderLen]
		length := uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])
		if length > maxFrameSize {
			return consumed, gerrors.NewFrameError("parse", ErrCodeFrameSize, "frame length exceeds SETTINGS_MAX_FRAME_SIZE", nil)
		}
		total := FrameHeaderLen + int(length)
		if len(buf)-consumed < total {
			return consumed, nil
		}
		payload := buf[consumed+FrameHeaderLen : consumed+total]
		frame, perr := parseOne(hdr, payload, length)
		if perr != nil {
			return consumed, perr
		}
		if err := fn(frame); err != nil {
			return consumed, err
		}
		consumed += total
	}
}

func parseOne(hdr []byte, payload []byte, length uint32) (*Frame, error) {
	f := &Frame{
		Length:   length,
		Type:     FrameType(hdr[3]),
		Flags:    Flags(hdr[4]),
		StreamID: binary.BigEndian.Uint32(hdr[5:9]) & 0x7fffffff,
	}

	switch f.Type {
	case FrameData, FrameHeaders, FramePriority, FrameRSTStream, FramePushPromise, FrameContinuation:
		if f.StreamID == 0 {
			return nil, gerrors.NewFrameError("parse", ErrCodeProtocol, f.Type.String()+" requires non-zero stream id", nil)
		}
	case FrameSettings, FramePing, FrameGoAway:
		if f.StreamID != 0 {
			return nil, gerrors.NewFrameError("parse", ErrCodeProtocol, f.Type.String()+" requires zero stream id", nil)
		}
	}

	var err error
	switch f.Type {
	case FrameData:
		err = parseDataPayload(f, payload)
	case FrameHeaders:
		err = parseHeadersPayload(f, payload)
	case FramePriority:
		err = parsePriorityPayload(f, payload)
	case FrameRSTStream:
		err = parseRSTStreamPayload(f, payload)
	case FrameSettings:
		err = parseSettingsPayload(f, payload)
	case FramePushPromise:
		err = parsePushPromisePayload(f, payload)
	case FramePing:
		err = parsePingPayload(f, payload)
	case FrameGoAway:
		err = parseGoAwayPayload(f, payload)
	case FrameWindowUpdate:
		err = parseWindowUpdatePayload(f, payload)
	case FrameContinuation:
		f.HeaderBlock = payload
	default:
		// Unknown frame type: discarded silently per spec §4.G.
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// stripPadding removes a PADDED frame's leading pad-length octet and
// trailing padding, validating the pad length doesn't exceed the payload
// (spec §4.G: "if the declared pad length exceeds the payload, PROTOCOL_ERROR").
func stripPadding(f *Frame, payload []byte) ([]byte, error) {
	if !f.Flags.Has(FlagPadded) {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, gerrors.NewFrameError("parse", ErrCodeProtocol, "padded frame missing pad length octet", nil)
	}
	padLen := int(payload[0])
	rest := payload[1:]
	if padLen > len(rest) {
		return nil, gerrors.NewFrameError("parse", ErrCodeProtocol, "pad length exceeds payload", nil)
	}
	return rest[:len(rest)-padLen], nil
}

func parseDataPayload(f *Frame, payload []byte) error {
	data, err := stripPadding(f, payload)
	if err != nil {
		return err
	}
	f.Data = data
	return nil
}

func parseHeadersPayload(f *Frame, payload []byte) error {
	body, err := stripPadding(f, payload)
	if err != nil {
		return err
	}
	if f.Flags.Has(FlagPriority) {
		if len(body) < 5 {
			return gerrors.NewFrameError("parse", ErrCodeFrameSize, "HEADERS priority block truncated", nil)
		}
		dep := binary.BigEndian.Uint32(body[0:4])
		f.Priority = &PriorityParam{
			StreamDep: dep & 0x7fffffff,
			Exclusive: dep&0x80000000 != 0,
			Weight:    body[4],
		}
		body = body[5:]
	}
	f.HeaderBlock = body
	return nil
}

func parsePriorityPayload(f *Frame, payload []byte) error {
	if len(payload) != 5 {
		return gerrors.NewFrameError("parse", ErrCodeFrameSize, "PRIORITY must be exactly 5 bytes", nil)
	}
	dep := binary.BigEndian.Uint32(payload[0:4])
	f.Priority = &PriorityParam{
		StreamDep: dep & 0x7fffffff,
		Exclusive: dep&0x80000000 != 0,
		Weight:    payload[4],
	}
	return nil
}

func parseRSTStreamPayload(f *Frame, payload []byte) error {
	if len(payload) != 4 {
		return gerrors.NewFrameError("parse", ErrCodeFrameSize, "RST_STREAM must be exactly 4 bytes", nil)
	}
	f.ErrorCode = binary.BigEndian.Uint32(payload)
	return nil
}

func parsePushPromisePayload(f *Frame, payload []byte) error {
	body, err := stripPadding(f, payload)
	if err != nil {
		return err
	}
	if len(body) < 4 {
		return gerrors.NewFrameError("parse", ErrCodeFrameSize, "PUSH_PROMISE truncated", nil)
	}
	f.PromisedID = binary.BigEndian.Uint32(body[0:4]) & 0x7fffffff
	f.HeaderBlock = body[4:]
	return nil
}

func parsePingPayload(f *Frame, payload []byte) error {
	if len(payload) != 8 {
		return gerrors.NewFrameError("parse", ErrCodeFrameSize, "PING must be exactly 8 bytes", nil)
	}
	copy(f.PingData[:], payload)
	return nil
}

func parseGoAwayPayload(f *Frame, payload []byte) error {
	if len(payload) < 8 {
		return gerrors.NewFrameError("parse", ErrCodeFrameSize, "GOAWAY truncated", nil)
	}
	f.LastStreamID = binary.BigEndian.Uint32(payload[0:4]) & 0x7fffffff
	f.ErrorCode = binary.BigEndian.Uint32(payload[4:8])
	f.DebugData = payload[8:]
	return nil
}

func parseWindowUpdatePayload(f *Frame, payload []byte) error {
	if len(payload) != 4 {
		return gerrors.NewFrameError("parse", ErrCodeFrameSize, "WINDOW_UPDATE must be exactly 4 bytes", nil)
	}
	inc := binary.BigEndian.Uint32(payload) & 0x7fffffff
	if inc == 0 {
		return gerrors.NewFrameError("parse", ErrCodeProtocol, "WINDOW_UPDATE increment must be non-zero", nil)
	}
	f.Increment = inc
	return nil
}

// --- writer side ---

func writeHeader(dst []byte, length int, typ FrameType, flags Flags, streamID uint32) []byte {
	dst = append(dst, byte(length>>16), byte(length>>8), byte(length))
	dst = append(dst, byte(typ), byte(flags))
	var sid [4]byte
	binary.BigEndian.PutUint32(sid[:], streamID&0x7fffffff)
	return append(dst, sid[:]...)
}

// WriteData appends a DATA frame for payload to dst, splitting across
// multiple frames if payload exceeds maxFrameSize (only the last chunk
// carries endStream).
func WriteData(dst []byte, streamID uint32, payload []byte, endStream bool, maxFrameSize uint32) []byte {
	if len(payload) == 0 {
		var flags Flags
		if endStream {
			flags = FlagEndStream
		}
		return writeHeader(dst, 0, FrameData, flags, streamID)
	}
	for len(payload) > 0 {
		chunk := payload
		last := true
		if uint32(len(chunk)) > maxFrameSize {
			chunk = payload[:maxFrameSize]
			last = false
		}
		payload = payload[len(chunk):]
		var flags Flags
		if endStream && last {
			flags = FlagEndStream
		}
		dst = writeHeader(dst, len(chunk), FrameData, flags, streamID)
		dst = append(dst, chunk...)
	}
	return dst
}

// WriteHeaders appends a HEADERS frame followed by as many CONTINUATION
// frames as needed to carry block, per spec §4.G's "splitting header blocks
// across HEADERS + CONTINUATION".
func WriteHeaders(dst []byte, streamID uint32, block []byte, endStream bool, maxFrameSize uint32) []byte {
	first := block
	rest := []byte(nil)
	if uint32(len(first)) > maxFrameSize {
		first = block[:maxFrameSize]
		rest = block[maxFrameSize:]
	}
	flags := FlagEndHeaders
	if rest != nil {
		flags &^= FlagEndHeaders
	}
	if endStream {
		flags |= FlagEndStream
	}
	dst = writeHeader(dst, len(first), FrameHeaders, flags, streamID)
	dst = append(dst, first...)
	for len(rest) > 0 {
		chunk := rest
		last := true
		if uint32(len(chunk)) > maxFrameSize {
			chunk = rest[:maxFrameSize]
			last = false
		}
		rest = rest[len(chunk):]
		var cflags Flags
		if last {
			cflags = FlagEndHeaders
		}
		dst = writeHeader(dst, len(chunk), FrameContinuation, cflags, streamID)
		dst = append(dst, chunk...)
	}
	return dst
}

func WriteRSTStream(dst []byte, streamID uint32, code uint32) []byte {
	dst = writeHeader(dst, 4, FrameRSTStream, 0, streamID)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], code)
	return append(dst, b[:]...)
}

func WritePing(dst []byte, data [8]byte, ack bool) []byte {
	var flags Flags
	if ack {
		flags = FlagAck
	}
	dst = writeHeader(dst, 8, FramePing, flags, 0)
	return append(dst, data[:]...)
}

func WriteGoAway(dst []byte, lastStreamID uint32, code uint32, debug []byte) []byte {
	dst = writeHeader(dst, 8+len(debug), FrameGoAway, 0, 0)
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(b[4:8], code)
	dst = append(dst, b[:]...)
	return append(dst, debug...)
}

func WriteWindowUpdate(dst []byte, streamID uint32, increment uint32) []byte {
	dst = writeHeader(dst, 4, FrameWindowUpdate, 0, streamID)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], increment&0x7fffffff)
	return append(dst, b[:]...)
}

func WritePriority(dst []byte, streamID uint32, p PriorityParam) []byte {
	dst = writeHeader(dst, 5, FramePriority, 0, streamID)
	var b [5]byte
	dep := p.StreamDep & 0x7fffffff
	if p.Exclusive {
		dep |= 0x80000000
	}
	binary.BigEndian.PutUint32(b[0:4], dep)
	b[4] = p.Weight
	return append(dst, b[:]...)
}
