package websocket

import (
	"bytes"
	"testing"
)

func TestWriteFrameParseFrameRoundTrip(t *testing.T) {
	frame := Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("hello")}
	wire, err := WriteFrame(nil, frame, true)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var got Frame
	n, err := ParseFrames(wire, 0, func(f Frame) error {
		got = f
		return nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed = %d, want %d", n, len(wire))
	}
	if !got.Fin || got.Opcode != OpcodeText || string(got.Payload) != "hello" {
		t.Fatalf("got %+v", got)
	}
	if !got.Masked {
		t.Fatalf("expected Masked to be true for a client-written frame")
	}
}

func TestParseFramesIncompleteTrailer(t *testing.T) {
	frame := Frame{Fin: true, Opcode: OpcodeBinary, Payload: []byte("0123456789")}
	wire, err := WriteFrame(nil, frame, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	partial := wire[:len(wire)-3]
	var calls int
	n, err := ParseFrames(partial, 0, func(Frame) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != 0 || calls != 0 {
		t.Fatalf("expected no frames consumed from a truncated buffer, got n=%d calls=%d", n, calls)
	}
}

func TestParseFramesRejectsReservedBits(t *testing.T) {
	wire := []byte{0x80 | 0x40 | byte(OpcodeText), 0x00}
	_, _, err := parseOne(wire, 0)
	if err == nil {
		t.Fatalf("expected an error for a set RSV bit")
	}
}

func TestParseFramesRejectsFragmentedControlFrame(t *testing.T) {
	wire := []byte{byte(OpcodePing), 0x00} // FIN unset
	_, _, err := parseOne(wire, 0)
	if err == nil {
		t.Fatalf("expected an error for a fragmented control frame")
	}
}

func TestParseFramesEnforcesMaxPayload(t *testing.T) {
	frame := Frame{Fin: true, Opcode: OpcodeBinary, Payload: make([]byte, 200)}
	wire, err := WriteFrame(nil, frame, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err = parseOne(wire, 100)
	if err == nil {
		t.Fatalf("expected an error when payload exceeds maxPayload")
	}
}

func TestWriteFrameRejectsOversizedControlPayload(t *testing.T) {
	frame := Frame{Fin: true, Opcode: OpcodePing, Payload: make([]byte, 126)}
	if _, err := WriteFrame(nil, frame, false); err == nil {
		t.Fatalf("expected an error for a control frame payload over 125 bytes")
	}
}

func TestParseFramesMultipleFramesInOneBuffer(t *testing.T) {
	var wire []byte
	wire, err := WriteFrame(wire, Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("a")}, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	wire, err = WriteFrame(wire, Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("b")}, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var payloads [][]byte
	n, err := ParseFrames(wire, 0, func(f Frame) error {
		payloads = append(payloads, f.Payload)
		return nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed = %d, want %d", n, len(wire))
	}
	if len(payloads) != 2 || !bytes.Equal(payloads[0], []byte("a")) || !bytes.Equal(payloads[1], []byte("b")) {
		t.Fatalf("got %v", payloads)
	}
}
