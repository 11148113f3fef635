package listener

import (
	"testing"
	"time"

	"github.com/gumdrop/gumdrop/pkg/tlsengine"
)

func TestParseRateLimitValid(t *testing.T) {
	parsed, ok, err := ParseRateLimit("100/1s")
	if err != nil {
		t.Fatalf("ParseRateLimit: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if parsed.Count != 100 || parsed.Window != time.Second {
		t.Fatalf("got %+v", parsed)
	}
}

func TestParseRateLimitEmptyDisables(t *testing.T) {
	parsed, ok, err := ParseRateLimit("")
	if err != nil {
		t.Fatalf("ParseRateLimit: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for an empty rate limit")
	}
	if parsed != (ParsedRateLimit{}) {
		t.Fatalf("got %+v, want zero value", parsed)
	}
}

func TestParseRateLimitRejectsMalformed(t *testing.T) {
	cases := []string{"100", "abc/1s", "100/abc", "0/1s", "-5/1s"}
	for _, c := range cases {
		if _, _, err := ParseRateLimit(c); err == nil {
			t.Fatalf("ParseRateLimit(%q): expected an error", c)
		}
	}
}

func TestValidateRequiresKeystoreWhenSecure(t *testing.T) {
	cfg := DefaultConfig(8443)
	cfg.Secure = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for a secure listener with no keystoreFile")
	}
	cfg.KeystoreFile = "server.p12"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := DefaultConfig(0)
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for port 0")
	}
	cfg = DefaultConfig(70000)
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for port 70000")
	}
}

func TestValidateRejectsNegativeFields(t *testing.T) {
	cfg := DefaultConfig(8080)
	cfg.MaxConcurrentPerIP = -1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for negative maxConcurrentPerIP")
	}

	cfg = DefaultConfig(8080)
	cfg.Loops = -1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for negative loops")
	}

	cfg = DefaultConfig(8080)
	cfg.MaxConcurrentHandshakes = -1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for negative maxConcurrentHandshakes")
	}
}

func TestValidateRejectsUnknownProtocolVersion(t *testing.T) {
	cfg := DefaultConfig(8080)
	cfg.Protocols = []uint16{0x9999}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an unrecognized TLS version")
	}
}

func TestValidateAcceptsKnownProtocolVersions(t *testing.T) {
	cfg := DefaultConfig(8080)
	cfg.Protocols = []uint16{tlsengine.VersionTLS12, tlsengine.VersionTLS13}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
