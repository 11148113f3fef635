package conn

import (
	"net"
	"testing"
	"time"

	"github.com/gumdrop/gumdrop/pkg/reactor"
)

type recordingHandler struct {
	opened   chan *Connection
	data     chan []byte
	writable chan struct{}
	closed   chan closeEvent
}

type closeEvent struct {
	reason CloseReason
	err    error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan *Connection, 1),
		data:     make(chan []byte, 8),
		writable: make(chan struct{}, 1),
		closed:   make(chan closeEvent, 1),
	}
}

func (h *recordingHandler) OnOpen(c *Connection) { h.opened <- c }
func (h *recordingHandler) OnData(data []byte) {
	h.data <- append([]byte(nil), data...)
}
func (h *recordingHandler) OnWritable() { h.writable <- struct{}{} }
func (h *recordingHandler) OnClose(reason CloseReason, err error) {
	h.closed <- closeEvent{reason, err}
}
func (h *recordingHandler) OnError(err error) {}

func newOpenPair(t *testing.T, opts Options) (peer net.Conn, h *recordingHandler, c *Connection, loop *reactor.SelectorLoop) {
	t.Helper()
	serverConn, peer := net.Pipe()
	loop = reactor.New(16)
	loop.Start()
	h = newRecordingHandler()
	c = New(loop, serverConn, h, opts)
	c.Open()

	select {
	case got := <-h.opened:
		if got != c {
			t.Fatalf("OnOpen delivered a different Connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}
	return peer, h, c, loop
}

func TestOpenTransitionsToOpenAndFiresOnOpen(t *testing.T) {
	peer, _, c, loop := newOpenPair(t, Options{})
	defer loop.Stop()
	defer peer.Close()

	if c.State() != StateOpen {
		t.Fatalf("got state %v, want OPEN", c.State())
	}
}

func TestOnDataDeliversInboundBytes(t *testing.T) {
	peer, h, _, loop := newOpenPair(t, Options{})
	defer loop.Stop()
	defer peer.Close()

	if _, err := peer.Write([]byte("hello")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case got := <-h.data:
		if string(got) != "hello" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnData")
	}
}

func TestSendWritesToPeer(t *testing.T) {
	peer, _, c, loop := newOpenPair(t, Options{})
	defer loop.Stop()
	defer peer.Close()

	blocked, err := c.Send([]byte("world"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if blocked {
		t.Fatalf("unexpected back-pressure on first send")
	}

	buf := make([]byte, 16)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestCloseIsGracefulAndFiresOnCloseOnce(t *testing.T) {
	peer, h, c, loop := newOpenPair(t, Options{})
	defer loop.Stop()
	defer peer.Close()

	c.Close()

	select {
	case ev := <-h.closed:
		if ev.reason != CloseGraceful {
			t.Fatalf("got reason %v, want graceful", ev.reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}

	// A second Close must not fire OnClose again.
	c.Close()
	select {
	case ev := <-h.closed:
		t.Fatalf("OnClose fired twice: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendAfterCloseReturnsError(t *testing.T) {
	peer, h, c, loop := newOpenPair(t, Options{})
	defer loop.Stop()
	defer peer.Close()

	c.Close()
	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}

	if _, err := c.Send([]byte("too late")); err == nil {
		t.Fatal("expected an error sending on a closed Connection")
	}
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	peer, h, c, loop := newOpenPair(t, Options{IdleTimeout: 30 * time.Millisecond})
	defer loop.Stop()
	defer peer.Close()
	_ = c

	select {
	case ev := <-h.closed:
		if ev.reason != CloseIdleTimeout {
			t.Fatalf("got reason %v, want idle_timeout", ev.reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle timeout never fired")
	}
}

func TestActivityResetsIdleTimer(t *testing.T) {
	peer, h, _, loop := newOpenPair(t, Options{IdleTimeout: 60 * time.Millisecond})
	defer loop.Stop()
	defer peer.Close()

	// Write three times, spaced under the idle timeout, to prove each read
	// rearms the timer rather than letting the original deadline stand.
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		if _, err := peer.Write([]byte("x")); err != nil {
			t.Fatalf("peer write: %v", err)
		}
		select {
		case <-h.data:
		case ev := <-h.closed:
			t.Fatalf("connection closed early: %+v", ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for OnData")
		}
	}
}

func TestBackpressureReportedPastWatermarkAndClearedOnWritable(t *testing.T) {
	peer, h, c, loop := newOpenPair(t, Options{OutboundWatermark: 8, OutboundMemLimit: 1 << 20})
	defer loop.Stop()
	defer peer.Close()

	// Send enough to first fill the channel's own write-pump queue (its
	// pump goroutine is stuck on the first net.Pipe write since nothing is
	// draining the peer side yet) and then pile up in the outbound Buffer
	// past the watermark, so Send starts reporting blocked=true.
	var lastBlocked bool
	for i := 0; i < 200; i++ {
		blocked, err := c.Send([]byte("0123456789"))
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		lastBlocked = blocked
		if blocked {
			break
		}
	}
	if !lastBlocked {
		t.Fatal("expected Send to eventually report back-pressure")
	}

	// Drain the peer side; OnWritable should fire once the backlog clears.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := peer.Read(buf); err != nil {
				return
			}
		}
	}()

	select {
	case <-h.writable:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnWritable")
	}
}
