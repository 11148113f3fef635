package http2

import (
	gerrors "github.com/gumdrop/gumdrop/pkg/errors"
)

// flowWindow is a signed 31-bit flow-control window (RFC 7540 §6.9): a
// SETTINGS_INITIAL_WINDOW_SIZE change can legally drive it negative, and
// only a WINDOW_UPDATE (always positive) or a later
// SETTINGS_INITIAL_WINDOW_SIZE increase can move it back up; Consume only
// lowers it.
type flowWindow struct {
	size int32
}

func newFlowWindow(initial uint32) flowWindow {
	return flowWindow{size: int32(initial)}
}

// Available reports how many bytes may still be sent (0 if negative).
func (w *flowWindow) Available() int32 {
	if w.size < 0 {
		return 0
	}
	return w.size
}

// Consume deducts n bytes after a DATA payload is sent or accepted.
func (w *flowWindow) Consume(n int32) {
	w.size -= n
}

// Increase applies a WINDOW_UPDATE increment or a SETTINGS-driven delta,
// returning a FLOW_CONTROL_ERROR if the result would exceed 2^31-1 (spec
// §4.H / RFC 7540 §6.9.1).
func (w *flowWindow) Increase(delta int32) error {
	next := int64(w.size) + int64(delta)
	if next > maxWindowSize {
		return gerrors.NewFrameError("flow_control", ErrCodeFlowControl, "flow control window would exceed 2^31-1", nil)
	}
	w.size = int32(next)
	return nil
}
