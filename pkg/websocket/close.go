package websocket

import "encoding/binary"

// decodeClosePayload parses a CLOSE frame's payload into a code and UTF-8
// reason string. An empty payload reports code 1005 ("no status code was
// present", spec §4.I), per RFC 6455 §7.1.5 — 1005 is never sent on the
// wire, only reported to the application.
func decodeClosePayload(payload []byte) (code uint16, reason string) {
	if len(payload) < 2 {
		return 1005, ""
	}
	code = binary.BigEndian.Uint16(payload[:2])
	return code, string(payload[2:])
}

// encodeClosePayload renders a CLOSE frame payload for code/reason. code
// must already have passed isValidCloseCodeForSend.
func encodeClosePayload(code uint16, reason string) []byte {
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, code)
	copy(buf[2:], reason)
	return buf
}

// isValidCloseCodeForSend reports whether code may be sent in a CLOSE
// frame per RFC 6455 §7.4.2: 1000-4999, excluding the codes reserved
// against being set by an endpoint (1004, 1005, 1006, 1015).
func isValidCloseCodeForSend(code uint16) bool {
	if code < 1000 || code > 4999 {
		return false
	}
	switch code {
	case 1004, 1005, 1006, 1015:
		return false
	}
	return true
}
