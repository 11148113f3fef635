package http2

import (
	"math/rand"
	"testing"

	gerrors "github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/hpack"
)

type recordingHandler struct {
	headers []hpack.HeaderField
	data    [][]byte
	resets  []uint32
	goaways int
}

func (h *recordingHandler) OnStreamHeaders(id uint32, hdrs []hpack.HeaderField, end bool) {
	h.headers = append(h.headers, hdrs...)
}
func (h *recordingHandler) OnStreamData(id uint32, data []byte, end bool) {
	h.data = append(h.data, append([]byte(nil), data...))
}
func (h *recordingHandler) OnStreamReset(id uint32, code uint32) { h.resets = append(h.resets, id) }
func (h *recordingHandler) OnGoAway(last uint32, code uint32, debug []byte) { h.goaways++ }
func (h *recordingHandler) OnPing(data [8]byte, ack bool)                  {}

// TestSettingsHandshakeOrderS2: the first frame after the preface must be
// SETTINGS; anything else is a PROTOCOL_ERROR.
func TestSettingsHandshakeOrderS2(t *testing.T) {
	h := &recordingHandler{}
	c := NewConnection(RoleServer, DefaultPeerSettings(), h)

	var buf []byte
	buf = WritePing(buf, [8]byte{1}, false)

	var frames []*Frame
	_, err := ParseFrames(buf, 16384, func(f *Frame) error { frames = append(frames, f); return nil })
	if err != nil {
		t.Fatalf("ParseFrames: %v", err)
	}
	if err := c.HandleFrame(frames[0]); err == nil {
		t.Fatalf("expected PROTOCOL_ERROR when first frame is not SETTINGS")
	}
}

func settingsFrame(t *testing.T, buf []byte, settings ...Setting) []byte {
	t.Helper()
	return WriteSettings(buf, settings, false)
}

// TestFlowControlWindowDeltaS3: a SETTINGS_INITIAL_WINDOW_SIZE change
// retroactively adjusts every open stream's send window by the delta.
func TestFlowControlWindowDeltaS3(t *testing.T) {
	h := &recordingHandler{}
	c := NewConnection(RoleServer, DefaultPeerSettings(), h)

	var buf []byte
	buf = settingsFrame(t, buf)
	mustHandleAll(t, c, buf)

	// Open a stream via HEADERS so it picks up the current peer initial
	// window size (65535 default).
	enc := hpack.NewEncoder(4096)
	block := enc.EncodeFields([]hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
	})
	var hbuf []byte
	hbuf = WriteHeaders(hbuf, 1, block, true, 16384)
	mustHandleAll(t, c, hbuf)

	s, ok := c.streams.Get(1)
	if !ok {
		t.Fatalf("expected stream 1 to exist")
	}
	before := s.SendWindow.Available()
	if before != 65535 {
		t.Fatalf("expected initial send window 65535, got %d", before)
	}

	var settingsBuf []byte
	settingsBuf = settingsFrame(t, settingsBuf, Setting{ID: SettingInitialWindowSize, Value: 1000})
	mustHandleAll(t, c, settingsBuf)

	after := s.SendWindow.Available()
	if after != 1000 {
		t.Fatalf("expected send window to become 1000 after delta, got %d", after)
	}
}

// TestContinuationAtomicityS4: HEADERS without END_HEADERS followed by DATA
// on the same stream must be rejected without delivering either frame.
func TestContinuationAtomicityS4(t *testing.T) {
	h := &recordingHandler{}
	c := NewConnection(RoleServer, DefaultPeerSettings(), h)
	mustHandleAll(t, c, settingsFrame(t, nil))

	enc := hpack.NewEncoder(4096)
	block := enc.EncodeFields([]hpack.HeaderField{{Name: ":method", Value: "GET"}})

	var buf []byte
	buf = writeHeader(buf, len(block), FrameHeaders, 0, 1) // no END_HEADERS flag
	buf = append(buf, block...)
	buf = WriteData(buf, 1, []byte("oops"), true, 16384)

	var frames []*Frame
	if _, err := ParseFrames(buf, 16384, func(f *Frame) error { frames = append(frames, f); return nil }); err != nil {
		t.Fatalf("ParseFrames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames parsed (HEADERS, DATA), got %d", len(frames))
	}
	if err := c.HandleFrame(frames[0]); err != nil {
		t.Fatalf("HEADERS without END_HEADERS should be accepted pending CONTINUATION: %v", err)
	}
	if len(h.headers) != 0 {
		t.Fatalf("headers must not be delivered before END_HEADERS")
	}
	err := c.HandleFrame(frames[1])
	if err == nil {
		t.Fatalf("expected PROTOCOL_ERROR: DATA interleaved mid header block")
	}
	gerr, ok := err.(*gerrors.Error)
	if !ok || gerr.FrameCode != ErrCodeProtocol {
		t.Fatalf("expected PROTOCOL_ERROR, got %v", err)
	}
	if len(h.headers) != 0 {
		t.Fatalf("headers must never be delivered once atomicity is violated")
	}
}

func mustHandleAll(t *testing.T, c *Connection, buf []byte) {
	t.Helper()
	_, err := ParseFrames(buf, 16384, func(f *Frame) error { return c.HandleFrame(f) })
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
}

// TestParseFramesTotalFunction is the property-1 fuzz-style test: parsing
// never panics and always ends in either (consumed, nil) or (consumed, err).
func TestParseFramesTotalFunction(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		buf := make([]byte, r.Intn(64))
		r.Read(buf)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					t.Fatalf("ParseFrames panicked on random input: %v", rec)
				}
			}()
			ParseFrames(buf, 16384, func(f *Frame) error { return nil })
		}()
	}
}

// TestFlowControlNeverExceedsWindowProperty4: DATA bytes accepted on a
// stream never exceed InitialWindowSize + sum of WINDOW_UPDATE increments.
func TestFlowControlNeverExceedsWindowProperty4(t *testing.T) {
	w := newFlowWindow(100)
	total := int32(100)
	sent := int32(0)

	send := func(n int32) bool {
		if w.Available() < n {
			return false
		}
		w.Consume(n)
		sent += n
		return true
	}

	if !send(60) {
		t.Fatalf("expected to be able to send 60 of 100")
	}
	if send(60) {
		t.Fatalf("must not be able to send 60 more with only 40 window left")
	}
	w.Increase(60)
	total += 60
	if !send(60) {
		t.Fatalf("expected window-update-enabled send to succeed")
	}
	if sent > total {
		t.Fatalf("sent %d exceeds total window ever granted %d", sent, total)
	}
}

func TestFrameLengthExceedsMaxFrameSizeRejected(t *testing.T) {
	var buf []byte
	buf = WriteData(buf, 1, make([]byte, 100), false, 16384)
	_, err := ParseFrames(buf, 50, func(f *Frame) error { return nil })
	if err == nil {
		t.Fatalf("expected FRAME_SIZE_ERROR for a frame exceeding maxFrameSize")
	}
}

func TestPaddedFrameWithExcessivePadRejected(t *testing.T) {
	// length=2 payload: padLen=2, but only 1 byte follows the pad-length octet.
	hdr := []byte{0, 0, 2, byte(FrameData), byte(FlagPadded), 0, 0, 0, 1}
	payload := []byte{2, 'a'} // claims 2 bytes of padding but only 1 byte follows
	buf := append(hdr, payload...)
	_, err := ParseFrames(buf, 16384, func(f *Frame) error { return nil })
	if err == nil {
		t.Fatalf("expected PROTOCOL_ERROR for pad length exceeding payload")
	}
}
