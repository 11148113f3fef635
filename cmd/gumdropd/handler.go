package main

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gumdrop/gumdrop/pkg/conn"
	gerrors "github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/hpack"
	"github.com/gumdrop/gumdrop/pkg/http2"
	"github.com/gumdrop/gumdrop/pkg/websocket"
)

// mode tracks which protocol a connection has settled on. Every accepted
// Connection starts in modeSniff and stays there until enough bytes arrive
// to tell HTTP/2's client preface apart from an HTTP/1.1 request line
// (spec §4.E's "pluggable per-connection protocol handler").
type mode int

const (
	modeSniff mode = iota
	modeHTTP1
	modeHTTP2
	modeWebSocket
)

// protocolHandler is the conn.Handler gumdropd hands to every accepted
// socket. It is the demo server's protocol-selection layer: HTTP/2 via the
// client preface, a WebSocket Upgrade negotiated over plain HTTP/1.1, or a
// fixed minimal HTTP/1.1 response otherwise. Every method runs on the
// owning reactor.SelectorLoop goroutine, per pkg/conn's single-owner rule.
type protocolHandler struct {
	log    *logrus.Logger
	remote net.Addr

	underlying *conn.Connection
	mode       mode
	sniffBuf   []byte

	h2 *http2.Connection
}

func newProtocolHandler(log *logrus.Logger, remote net.Addr) *protocolHandler {
	return &protocolHandler{log: log, remote: remote}
}

func (h *protocolHandler) OnOpen(c *conn.Connection) {
	h.underlying = c
}

func (h *protocolHandler) OnData(data []byte) {
	switch h.mode {
	case modeSniff:
		h.sniff(data)
	case modeHTTP1:
		h.handleHTTP1(data)
	case modeHTTP2:
		h.handleHTTP2(data)
	case modeWebSocket:
		h.handleWebSocket(data)
	}
}

// sniff buffers bytes until there are enough to tell HTTP/2's 24-byte
// client preface (RFC 7540 §3.5) apart from an HTTP/1.1 request line, then
// dispatches once and for all — a connection never switches protocols
// again after this point, except HTTP/1.1 -> WebSocket on a successful
// Upgrade.
func (h *protocolHandler) sniff(data []byte) {
	h.sniffBuf = append(h.sniffBuf, data...)
	consumed, ok, err := http2.ConsumePreface(h.sniffBuf)
	if err != nil {
		h.mode = modeHTTP1
		buffered := h.sniffBuf
		h.sniffBuf = nil
		h.handleHTTP1(buffered)
		return
	}
	if !ok {
		return // preface so far matches but buf is still short; wait for more
	}
	h.mode = modeHTTP2
	rest := h.sniffBuf[consumed:]
	h.sniffBuf = nil
	h.startHTTP2()
	h.handleHTTP2(rest)
}

// handleHTTP1 parses one HTTP/1.1 request line and header block off data
// (assumed to arrive in a single read, which is the case for the short
// GET requests this demo server expects) and answers either with a
// WebSocket Upgrade or a fixed 200 response.
func (h *protocolHandler) handleHTTP1(data []byte) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		h.writeAndClose("HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")
		return
	}

	if isWebSocketUpgrade(req.Header) {
		key, err := websocket.ValidateUpgradeRequest(req.Header)
		if err != nil {
			h.writeAndClose("HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")
			return
		}
		h.mode = modeWebSocket
		h.underlying.Send(websocket.UpgradeResponse(key, ""))
		return
	}

	body := "gumdropd\n"
	resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: keep-alive\r\n\r\n%s", len(body), body)
	h.underlying.Send([]byte(resp))
}

func isWebSocketUpgrade(hdr http.Header) bool {
	return strings.EqualFold(hdr.Get("Upgrade"), "websocket")
}

func (h *protocolHandler) writeAndClose(resp string) {
	h.underlying.Send([]byte(resp))
	h.underlying.Close()
}

// handleWebSocket decodes frames directly via pkg/websocket's frame codec
// rather than wrapping a second websocket.Connection around the socket —
// this Connection already owns the reactor-level conn.Connection the
// listener constructed, and websocket.Attach would need to build its own.
// Reusing ParseFrames/WriteFrame keeps the framing logic identical to
// websocket.Connection's without the redundant wrapper.
func (h *protocolHandler) handleWebSocket(data []byte) {
	_, err := websocket.ParseFrames(data, 0, h.onWebSocketFrame)
	if err != nil {
		h.underlying.Close()
	}
}

func (h *protocolHandler) onWebSocketFrame(frame websocket.Frame) error {
	switch frame.Opcode {
	case websocket.OpcodeText, websocket.OpcodeBinary:
		echo, err := websocket.WriteFrame(nil, websocket.Frame{Fin: true, Opcode: frame.Opcode, Payload: frame.Payload}, false)
		if err != nil {
			return err
		}
		h.underlying.Send(echo)
	case websocket.OpcodePing:
		pong, err := websocket.WriteFrame(nil, websocket.Frame{Fin: true, Opcode: websocket.OpcodePong, Payload: frame.Payload}, false)
		if err != nil {
			return err
		}
		h.underlying.Send(pong)
	case websocket.OpcodeClose:
		echo, err := websocket.WriteFrame(nil, websocket.Frame{Fin: true, Opcode: websocket.OpcodeClose, Payload: frame.Payload}, false)
		if err != nil {
			return err
		}
		h.underlying.Send(echo)
		h.underlying.Close()
	}
	return nil
}

// startHTTP2 sends the server's initial SETTINGS and builds the
// connection-level state machine; actual frames arrive via handleHTTP2.
func (h *protocolHandler) startHTTP2() {
	local := http2.DefaultPeerSettings()
	h.h2 = http2.NewConnection(http2.RoleServer, local, h)
	settings := []http2.Setting{
		{ID: http2.SettingMaxConcurrentStreams, Value: local.MaxConcurrentStreams},
		{ID: http2.SettingInitialWindowSize, Value: local.InitialWindowSize},
	}
	h.underlying.Send(http2.WriteSettings(nil, settings, false))
}

func (h *protocolHandler) handleHTTP2(data []byte) {
	_, err := http2.ParseFrames(data, h.maxFrameSize(), h.h2.HandleFrame)
	if err != nil {
		h.abortHTTP2(err)
	}
}

// abortHTTP2 sends GOAWAY with the last peer stream id this connection
// accepted and the offending error's HTTP/2 code (spec §7: "HTTP/2
// PROTOCOL_ERROR -> send GOAWAY(lastPeerStreamId, PROTOCOL_ERROR, debug)
// and close"), then closes the socket.
func (h *protocolHandler) abortHTTP2(err error) {
	code := http2.ErrCodeProtocol
	if gerr, ok := err.(*gerrors.Error); ok && gerr.FrameCode != 0 {
		code = gerr.FrameCode
	}
	lastStreamID := h.h2.LastPeerStreamID()
	h.underlying.Send(http2.WriteGoAway(nil, lastStreamID, code, []byte(err.Error())))
	h.h2.MarkGoAwaySent(lastStreamID)
	h.underlying.Close()
}

// maxFrameSize is the RFC 7540 §6.5.2 default floor (16384); gumdropd never
// advertises a larger SETTINGS_MAX_FRAME_SIZE, so it's always valid both
// for parsing incoming frames and for chunking this handler's own writes.
func (h *protocolHandler) maxFrameSize() uint32 {
	return http2.DefaultPeerSettings().MaxFrameSize
}

// OnStreamHeaders implements http2.Handler: every new request stream gets
// a fixed 200 response with a small body, closing the stream immediately.
func (h *protocolHandler) OnStreamHeaders(streamID uint32, hdrs []hpack.HeaderField, endStream bool) {
	body := []byte("gumdropd\n")
	respHeaders := []hpack.HeaderField{
		{Name: ":status", Value: "200"},
		{Name: "content-length", Value: fmt.Sprintf("%d", len(body))},
	}
	block := h.h2.EncodeHeaders(respHeaders)
	h.underlying.Send(http2.WriteHeaders(nil, streamID, block, false, h.maxFrameSize()))
	h.underlying.Send(http2.WriteData(nil, streamID, body, true, h.maxFrameSize()))
	h.h2.MarkDataSent(streamID, int32(len(body)))
}

func (h *protocolHandler) OnStreamData(streamID uint32, data []byte, endStream bool) {}
func (h *protocolHandler) OnStreamReset(streamID uint32, code uint32)                {}
func (h *protocolHandler) OnGoAway(lastStreamID uint32, code uint32, debug []byte)    {}
func (h *protocolHandler) OnPing(data [8]byte, ack bool) {
	if !ack {
		h.underlying.Send(http2.WritePing(nil, data, true))
	}
}

func (h *protocolHandler) OnWritable() {}

func (h *protocolHandler) OnClose(reason conn.CloseReason, err error) {
	if err != nil {
		h.log.WithField("remote", h.remote).WithError(err).Debug("gumdropd: connection closed")
	}
}

func (h *protocolHandler) OnError(err error) {
	h.log.WithField("remote", h.remote).WithError(err).Warn("gumdropd: connection error")
}
