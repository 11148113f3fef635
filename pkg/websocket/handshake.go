package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/gumdrop/gumdrop/pkg/errors"
)

// magicGUID is the fixed string RFC 6455 §1.3 defines for deriving
// Sec-WebSocket-Accept from the client's Sec-WebSocket-Key.
const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept header value for clientKey
// (the request's Sec-WebSocket-Key, already base64-decoded-and-reencoded
// form as received on the wire — i.e. pass the header value verbatim).
func AcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + magicGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ValidateUpgradeRequest checks the headers of an HTTP/1.1 request against
// RFC 6455 §4.2.1's opening-handshake requirements, using
// golang.org/x/net/http/httpguts for the token-list comparisons HTTP's
// comma-separated header values require (a plain string-equality check
// would wrongly reject "Connection: keep-alive, Upgrade").
func ValidateUpgradeRequest(h http.Header) (key string, err error) {
	if h.Get("Sec-WebSocket-Version") != "13" {
		return "", errors.NewWebSocketError(1002, "unsupported Sec-WebSocket-Version")
	}
	if !httpguts.HeaderValuesContainsToken(h["Connection"], "Upgrade") {
		return "", errors.NewWebSocketError(1002, "missing Connection: Upgrade")
	}
	if !strings.EqualFold(h.Get("Upgrade"), "websocket") {
		return "", errors.NewWebSocketError(1002, "missing Upgrade: websocket")
	}
	key = h.Get("Sec-WebSocket-Key")
	decoded, err2 := base64.StdEncoding.DecodeString(key)
	if err2 != nil || len(decoded) != 16 {
		return "", errors.NewWebSocketError(1002, "invalid Sec-WebSocket-Key")
	}
	return key, nil
}

// UpgradeResponse renders the HTTP/1.1 101 response switching the
// connection to the WebSocket protocol, ready to write to the wire ahead
// of any WebSocket frames.
func UpgradeResponse(clientKey string, subprotocol string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(AcceptKey(clientKey))
	b.WriteString("\r\n")
	if subprotocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: ")
		b.WriteString(subprotocol)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
