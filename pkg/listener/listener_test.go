package listener

import (
	"net"
	"testing"
	"time"

	"github.com/gumdrop/gumdrop/pkg/conn"
)

type echoHandler struct {
	c *conn.Connection
}

func (h *echoHandler) OnOpen(c *conn.Connection)       { h.c = c }
func (h *echoHandler) OnData(data []byte)              { h.c.Send(data) }
func (h *echoHandler) OnWritable()                     {}
func (h *echoHandler) OnClose(conn.CloseReason, error) {}
func (h *echoHandler) OnError(error)                   {}

func newEchoFactory() HandlerFactory {
	return func(remote net.Addr) conn.Handler { return &echoHandler{} }
}

// freePort grabs an ephemeral port by briefly binding to it, for tests that
// need a concrete port number up front (Validate rejects port 0).
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestListenerAcceptsAndEchoes(t *testing.T) {
	cfg := DefaultConfig(freePort(t))
	ln, err := New(cfg, newEchoFactory(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ln.Close()

	if err := ln.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	clientConn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	buf := make([]byte, 16)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", buf[:n], "ping")
	}
}

func TestListenerRoundRobinsAcrossLoops(t *testing.T) {
	cfg := DefaultConfig(freePort(t))
	cfg.Loops = 3
	ln, err := New(cfg, newEchoFactory(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ln.Close()

	// pickLoop should cycle through all 3 loops, not stick to one.
	got := make(map[int]int)
	for i := 0; i < 6; i++ {
		loop := ln.pickLoop()
		for idx, l := range ln.loops {
			if l == loop {
				got[idx]++
			}
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected all 3 loops to be used, got %+v", got)
	}
}

func TestListenerNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig(freePort(t))
	cfg.Secure = true // no KeystoreFile set
	if _, err := New(cfg, newEchoFactory(), nil); err == nil {
		t.Fatal("expected an error for a secure listener with no keystore")
	}
}

func TestListenerCloseStopsAccepting(t *testing.T) {
	cfg := DefaultConfig(freePort(t))
	ln, err := New(cfg, newEchoFactory(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ln.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()

	if err := ln.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		t.Fatal("expected dial to a closed listener to fail")
	}
}
