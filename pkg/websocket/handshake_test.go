package websocket

import (
	"net/http"
	"strings"
	"testing"
)

func TestAcceptKeyRFC6455Vector(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("AcceptKey = %q, want %q", got, want)
	}
}

func TestValidateUpgradeRequestAccepts(t *testing.T) {
	h := http.Header{}
	h.Set("Sec-WebSocket-Version", "13")
	h.Set("Connection", "keep-alive, Upgrade")
	h.Set("Upgrade", "websocket")
	h.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	key, err := ValidateUpgradeRequest(h)
	if err != nil {
		t.Fatalf("ValidateUpgradeRequest: %v", err)
	}
	if key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("key = %q", key)
	}
}

func TestValidateUpgradeRequestRejectsWrongVersion(t *testing.T) {
	h := http.Header{}
	h.Set("Sec-WebSocket-Version", "8")
	h.Set("Connection", "Upgrade")
	h.Set("Upgrade", "websocket")
	h.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	if _, err := ValidateUpgradeRequest(h); err == nil {
		t.Fatalf("expected an error for an unsupported Sec-WebSocket-Version")
	}
}

func TestValidateUpgradeRequestRejectsMissingUpgradeToken(t *testing.T) {
	h := http.Header{}
	h.Set("Sec-WebSocket-Version", "13")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade", "websocket")
	h.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	if _, err := ValidateUpgradeRequest(h); err == nil {
		t.Fatalf("expected an error when Connection lacks the Upgrade token")
	}
}

func TestUpgradeResponseIncludesAcceptAndSubprotocol(t *testing.T) {
	resp := string(UpgradeResponse("dGhlIHNhbXBsZSBub25jZQ==", "chat"))
	if !strings.Contains(resp, "HTTP/1.1 101 Switching Protocols") {
		t.Fatalf("missing status line: %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Fatalf("missing accept key: %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Protocol: chat") {
		t.Fatalf("missing subprotocol: %q", resp)
	}
}
