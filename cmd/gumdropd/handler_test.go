package main

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gumdrop/gumdrop/pkg/conn"
	"github.com/gumdrop/gumdrop/pkg/http2"
	"github.com/gumdrop/gumdrop/pkg/reactor"
)

func newTestHandlerPair(t *testing.T) (peer net.Conn, loop *reactor.SelectorLoop) {
	t.Helper()
	serverConn, peer := net.Pipe()
	loop = reactor.New(4)
	loop.Start()

	log := logrus.New()
	log.SetOutput(testWriter{t})
	h := newProtocolHandler(log, serverConn.RemoteAddr())
	c := conn.New(loop, serverConn, h, conn.Options{})
	c.Open()
	return peer, loop
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestProtocolHandlerAnswersPlainHTTP1Request(t *testing.T) {
	peer, loop := newTestHandlerPair(t)
	defer loop.Stop()
	defer peer.Close()

	if _, err := peer.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	buf := make([]byte, 4096)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	got := string(buf[:n])
	if !strings.Contains(got, "200 OK") {
		t.Fatalf("expected a 200 response, got %q", got)
	}
}

func TestProtocolHandlerUpgradesWebSocket(t *testing.T) {
	peer, loop := newTestHandlerPair(t)
	defer loop.Stop()
	defer peer.Close()

	req := "GET /ws HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n"
	if _, err := peer.Write([]byte(req)); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	buf := make([]byte, 4096)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := peer.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	got := string(buf[:n])
	if !strings.Contains(got, "101") || !strings.Contains(got, "Sec-WebSocket-Accept") {
		t.Fatalf("expected a 101 Upgrade response, got %q", got)
	}
}

// TestProtocolHandlerSendsGoAwayOnHTTP2ProtocolError sends the client
// preface followed by a PING frame (RFC 7540 §3.5 requires the first frame
// after the preface to be SETTINGS), and checks the server answers with
// GOAWAY(PROTOCOL_ERROR) before closing rather than aborting silently.
func TestProtocolHandlerSendsGoAwayOnHTTP2ProtocolError(t *testing.T) {
	peer, loop := newTestHandlerPair(t)
	defer loop.Stop()
	defer peer.Close()

	if _, err := peer.Write([]byte(http2.ClientPreface)); err != nil {
		t.Fatalf("peer write preface: %v", err)
	}
	// First frame after the preface must be SETTINGS; a PING here is a
	// connection-fatal protocol error.
	if _, err := peer.Write(http2.WritePing(nil, [8]byte{}, false)); err != nil {
		t.Fatalf("peer write ping: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frames []byte
	buf := make([]byte, 4096)
	for {
		n, err := peer.Read(buf)
		if n > 0 {
			frames = append(frames, buf[:n]...)
		}
		if err != nil {
			// The server closes the connection after GOAWAY; EOF here is
			// the expected end of the exchange, not a test failure.
			break
		}
	}

	sawGoAway := false
	_, err := http2.ParseFrames(frames, 16384, func(f *http2.Frame) error {
		if f.Type == http2.FrameGoAway {
			sawGoAway = true
			if f.ErrorCode != http2.ErrCodeProtocol {
				t.Fatalf("expected ErrCodeProtocol, got %d", f.ErrorCode)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ParseFrames: %v", err)
	}
	if !sawGoAway {
		t.Fatalf("expected a GOAWAY frame, got %d bytes: %x", len(frames), frames)
	}
}
