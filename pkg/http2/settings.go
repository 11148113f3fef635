package http2

import (
	"encoding/binary"

	gerrors "github.com/gumdrop/gumdrop/pkg/errors"
)

// SettingID identifies one RFC 7540 §6.5.2 SETTINGS parameter.
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// Setting is a single id/value pair as carried on the wire.
type Setting struct {
	ID    SettingID
	Value uint32
}

const maxFrameSizeFloor = 16384
const maxFrameSizeCeil = 1<<24 - 1
const maxWindowSize = 1<<31 - 1

func parseSettingsPayload(f *Frame, payload []byte) error {
	if f.Ack() {
		if len(payload) != 0 {
			return gerrors.NewFrameError("parse", ErrCodeFrameSize, "SETTINGS ACK must have empty payload", nil)
		}
		return nil
	}
	if len(payload)%6 != 0 {
		return gerrors.NewFrameError("parse", ErrCodeFrameSize, "SETTINGS payload length must be a multiple of 6", nil)
	}
	for i := 0; i+6 <= len(payload); i += 6 {
		id := SettingID(binary.BigEndian.Uint16(payload[i : i+2]))
		val := binary.BigEndian.Uint32(payload[i+2 : i+6])
		switch id {
		case SettingEnablePush:
			if val != 0 && val != 1 {
				return gerrors.NewFrameError("parse", ErrCodeProtocol, "SETTINGS_ENABLE_PUSH must be 0 or 1", nil)
			}
		case SettingMaxFrameSize:
			if val < maxFrameSizeFloor || val > maxFrameSizeCeil {
				return gerrors.NewFrameError("parse", ErrCodeProtocol, "SETTINGS_MAX_FRAME_SIZE out of range", nil)
			}
		case SettingInitialWindowSize:
			if val > maxWindowSize {
				return gerrors.NewFrameError("parse", ErrCodeFlowControl, "SETTINGS_INITIAL_WINDOW_SIZE exceeds 2^31-1", nil)
			}
		}
		f.Settings = append(f.Settings, Setting{ID: id, Value: val})
	}
	return nil
}

// WriteSettings appends a SETTINGS frame carrying settings, or an empty ACK
// frame when ack is true (settings is ignored in that case).
func WriteSettings(dst []byte, settings []Setting, ack bool) []byte {
	if ack {
		return writeHeader(dst, 0, FrameSettings, FlagAck, 0)
	}
	dst = writeHeader(dst, len(settings)*6, FrameSettings, 0, 0)
	for _, s := range settings {
		var b [6]byte
		binary.BigEndian.PutUint16(b[0:2], uint16(s.ID))
		binary.BigEndian.PutUint32(b[2:6], s.Value)
		dst = append(dst, b[:]...)
	}
	return dst
}

// PeerSettings is the negotiated state of the remote endpoint's SETTINGS,
// seeded with RFC 7540 §6.5.2 defaults until the peer's own SETTINGS frame
// arrives.
type PeerSettings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32 // 0 = unbounded (no SETTINGS_MAX_CONCURRENT_STREAMS received)
	HasMaxConcurrent     bool
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32 // 0 = unbounded
}

// DefaultPeerSettings returns the RFC 7540 §6.5.2 default values a peer is
// assumed to have before its SETTINGS frame is received.
func DefaultPeerSettings() PeerSettings {
	return PeerSettings{
		HeaderTableSize:   4096,
		EnablePush:        true,
		InitialWindowSize: 65535,
		MaxFrameSize:      16384,
	}
}

// Apply folds a received SETTINGS frame's parameters into ps, returning the
// delta to apply to every open stream's send window (InitialWindowSize may
// have changed) per spec §4.H / RFC 7540 §6.9.2.
func (ps *PeerSettings) Apply(settings []Setting) (windowDelta int32) {
	for _, s := range settings {
		switch s.ID {
		case SettingHeaderTableSize:
			ps.HeaderTableSize = s.Value
		case SettingEnablePush:
			ps.EnablePush = s.Value == 1
		case SettingMaxConcurrentStreams:
			ps.MaxConcurrentStreams = s.Value
			ps.HasMaxConcurrent = true
		case SettingInitialWindowSize:
			windowDelta += int32(s.Value) - int32(ps.InitialWindowSize)
			ps.InitialWindowSize = s.Value
		case SettingMaxFrameSize:
			ps.MaxFrameSize = s.Value
		case SettingMaxHeaderListSize:
			ps.MaxHeaderListSize = s.Value
		}
	}
	return windowDelta
}
