package websocket

import (
	"encoding/binary"

	"github.com/gumdrop/gumdrop/pkg/constants"
	"github.com/gumdrop/gumdrop/pkg/errors"
)

// Frame is one decoded WebSocket frame (RFC 6455 §5.2), already unmasked.
// Masked records whether the frame carried a mask bit on the wire, so the
// caller can enforce "server must receive masked frames; client must
// receive unmasked" (spec §4.I) — the field name mirrors the corpus's
// momentics/hioload-ws/protocol.WSFrame.Masked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
	Masked  bool
}

// minHeaderLen is the shortest possible frame: 2-byte base header, no
// extended length, no mask.
const minHeaderLen = 2

// ParseFrames is a total function over buf (spec §8 property 1, mirrored
// from pkg/http2.ParseFrames): it decodes as many complete frames as buf
// holds, invoking fn for each, and returns how many leading bytes were
// consumed. A trailing partial frame is left unconsumed for the caller to
// top up with more bytes. maxPayload bounds any single frame's payload
// (RFC 6455 doesn't set one; spec §6/§9 leaves message-size limits to the
// implementation) — exceeding it is a typed error, never a panic or
// unbounded allocation.
func ParseFrames(buf []byte, maxPayload int, fn func(Frame) error) (consumed int, err error) {
	for {
		n, frame, ferr := parseOne(buf[consumed:], maxPayload)
		if ferr != nil {
			return consumed, ferr
		}
		if n == 0 {
			return consumed, nil // incomplete trailing frame
		}
		if err := fn(frame); err != nil {
			return consumed, err
		}
		consumed += n
	}
}

func parseOne(buf []byte, maxPayload int) (int, Frame, error) {
	if len(buf) < minHeaderLen {
		return 0, Frame{}, nil
	}

	b0, b1 := buf[0], buf[1]
	fin := b0&0x80 != 0
	rsv := b0 & 0x70
	opcode := Opcode(b0 & 0x0F)
	masked := b1&0x80 != 0
	lenField := int(b1 & 0x7F)

	if rsv != 0 {
		return 0, Frame{}, errors.NewWebSocketError(1002, "reserved bits must be zero")
	}
	if opcode.IsControl() {
		if !fin {
			return 0, Frame{}, errors.NewWebSocketError(1002, "control frame must not be fragmented")
		}
		if lenField > constants.MaxControlFramePayload {
			return 0, Frame{}, errors.NewWebSocketError(1002, "control frame payload exceeds 125 bytes")
		}
	}

	offset := minHeaderLen
	payloadLen := int64(lenField)
	switch lenField {
	case 126:
		if len(buf) < offset+2 {
			return 0, Frame{}, nil
		}
		payloadLen = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return 0, Frame{}, nil
		}
		raw := binary.BigEndian.Uint64(buf[offset:])
		if raw&(1<<63) != 0 {
			return 0, Frame{}, errors.NewWebSocketError(1002, "64-bit payload length must not set the MSB")
		}
		payloadLen = int64(raw)
		offset += 8
	}

	if maxPayload > 0 && payloadLen > int64(maxPayload) {
		return 0, Frame{}, errors.NewWebSocketError(1009, "frame payload too large")
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return 0, Frame{}, nil
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	total := offset + int(payloadLen)
	if len(buf) < total {
		return 0, Frame{}, nil
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[offset:total])
	if masked {
		unmask(payload, maskKey)
	}

	return total, Frame{Fin: fin, Opcode: opcode, Payload: payload, Masked: masked}, nil
}

func unmask(data []byte, key [4]byte) {
	for i := range data {
		data[i] ^= key[i%4]
	}
}

// WriteFrame encodes frame into dst (appending) per RFC 6455 §5.2. When
// mask is true a fresh random masking key is generated and applied —
// required for every frame a client sends, forbidden for frames a server
// sends (RFC 6455 §5.1).
func WriteFrame(dst []byte, frame Frame, mask bool) ([]byte, error) {
	if frame.Opcode.IsControl() && len(frame.Payload) > constants.MaxControlFramePayload {
		return nil, errors.NewWebSocketError(1002, "control frame payload exceeds 125 bytes")
	}

	b0 := byte(frame.Opcode)
	if frame.Fin {
		b0 |= 0x80
	}
	dst = append(dst, b0)

	n := len(frame.Payload)
	maskBit := byte(0)
	if mask {
		maskBit = 0x80
	}
	switch {
	case n <= 125:
		dst = append(dst, maskBit|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, maskBit|126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		dst = append(dst, ext[:]...)
	default:
		dst = append(dst, maskBit|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		dst = append(dst, ext[:]...)
	}

	if mask {
		key, err := randomMaskKey()
		if err != nil {
			return nil, err
		}
		dst = append(dst, key[:]...)
		start := len(dst)
		dst = append(dst, frame.Payload...)
		unmask(dst[start:], key) // mask == unmask (XOR is its own inverse)
		return dst, nil
	}

	return append(dst, frame.Payload...), nil
}
