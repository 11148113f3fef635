package http2

import (
	gerrors "github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/hpack"
)

// StreamState is the RFC 7540 §5.1 stream state machine.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamReservedLocal
	StreamReservedRemote
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamReservedLocal:
		return "reserved_local"
	case StreamReservedRemote:
		return "reserved_remote"
	case StreamOpen:
		return "open"
	case StreamHalfClosedLocal:
		return "half_closed_local"
	case StreamHalfClosedRemote:
		return "half_closed_remote"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream tracks one HTTP/2 stream's state, flow-control windows, and
// scheduling position (spec §4.H).
type Stream struct {
	ID    uint32
	State StreamState

	SendWindow flowWindow
	RecvWindow flowWindow

	Weight   uint8 // wire value (actual weight - 1); actual weight is Weight+1
	ParentID uint32

	headerBlock    []byte // accumulates HEADERS + CONTINUATION fragments until END_HEADERS
	headersPending bool

	Headers   []hpack.HeaderField
	EndStream bool // END_STREAM seen on the header block or a later DATA frame
}

func newStream(id uint32, initialSendWindow, initialRecvWindow uint32) *Stream {
	return &Stream{
		ID:         id,
		State:      StreamIdle,
		SendWindow: newFlowWindow(initialSendWindow),
		RecvWindow: newFlowWindow(initialRecvWindow),
		Weight:     15, // RFC 7540 §5.3.5 default weight 16, stored as wire value (weight-1)
	}
}

// acceptHeaders transitions Idle -> Open/HalfClosedRemote on receiving
// HEADERS, per spec §4.H.
func (s *Stream) acceptHeaders(endStream bool) error {
	switch s.State {
	case StreamIdle:
		if endStream {
			s.State = StreamHalfClosedRemote
		} else {
			s.State = StreamOpen
		}
	case StreamReservedRemote:
		s.State = StreamHalfClosedLocal
	case StreamHalfClosedLocal:
		if endStream {
			s.State = StreamClosed
		}
	case StreamOpen:
		// Trailer HEADERS on an already-open stream; only valid with END_STREAM.
		if !endStream {
			return gerrors.NewStreamError(s.ID, ErrCodeProtocol, "trailing HEADERS without END_STREAM")
		}
		s.State = StreamHalfClosedRemote
	default:
		return gerrors.NewStreamError(s.ID, ErrCodeStreamClosed, "HEADERS received on stream in state "+s.State.String())
	}
	return nil
}

// acceptData validates a DATA frame's state; only Open and HalfClosedLocal
// accept it, every other state rejects it (RFC 7540 §6.1).
func (s *Stream) acceptData(endStream bool) error {
	switch s.State {
	case StreamOpen:
		if endStream {
			s.State = StreamHalfClosedRemote
		}
	case StreamHalfClosedLocal:
		if endStream {
			s.State = StreamClosed
		}
	default:
		return gerrors.NewStreamError(s.ID, ErrCodeStreamClosed, "DATA received on stream in state "+s.State.String())
	}
	return nil
}

// acceptOtherFrame checks spec §4.H's "receiving any frame other than
// WINDOW_UPDATE/PRIORITY/RST_STREAM on a HALF_CLOSED_REMOTE stream from the
// peer is STREAM_CLOSED" rule.
func (s *Stream) acceptOtherFrame(t FrameType) error {
	if s.State != StreamHalfClosedRemote && s.State != StreamClosed {
		return nil
	}
	switch t {
	case FrameWindowUpdate, FramePriority, FrameRSTStream:
		return nil
	default:
		return gerrors.NewStreamError(s.ID, ErrCodeStreamClosed, t.String()+" received on "+s.State.String()+" stream")
	}
}

func (s *Stream) reset() {
	s.State = StreamClosed
}

func (s *Stream) markLocalEndStream() {
	switch s.State {
	case StreamOpen:
		s.State = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.State = StreamClosed
	}
}
