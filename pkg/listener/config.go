// Package listener implements spec §4.E, the "Listener/Client factory"
// module: it binds a socket, accepts connections, and hands each accepted
// net.Conn to pkg/conn.New bound to one of a pool of reactor.SelectorLoop
// workers; it also exposes Dial, the mirror-image outbound path, grounded
// on the teacher's pkg/transport.Transport.Connect (DNS resolution, proxy
// CONNECT/SOCKS dialing, TLS upgrade).
package listener

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gumdrop/gumdrop/pkg/constants"
	"github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/tlsengine"
)

// Config collects the listener configuration options spec §6 names
// verbatim ("Listener configuration (recognised options, each with its
// effect)"). Field names track the spec's option names rather than Go
// convention (e.g. ALPN not Alpn) so the mapping from spec to code stays
// mechanical.
type Config struct {
	// Port is the TCP port to bind. Required.
	Port int

	// Secure enables TLS. When true, KeystoreFile (and, for PKCS#12
	// keystores, KeystorePass) must be set.
	Secure bool
	// KeystoreFile holds the server's certificate and private key. Either
	// a PKCS#12 keystore (decrypted with KeystorePass) or a PEM file
	// containing both certificate and key, detected by content.
	KeystoreFile string
	KeystorePass string
	// ClientAuth selects none/want/need (spec §6).
	ClientAuth tlsengine.ClientAuthMode
	// CipherSuites and Protocols are allow-lists; both nil means "package
	// defaults" (tlsengine.ProfileSecure).
	CipherSuites []uint16
	Protocols    []uint16 // TLS version allow-list, e.g. tls.VersionTLS12, tls.VersionTLS13
	// ALPN is the ordered application protocol list offered during the
	// handshake, e.g. []string{"h2", "http/1.1"}.
	ALPN []string

	// MaxConcurrentPerIP caps simultaneous connections from one source IP;
	// 0 disables the cap (spec §6).
	MaxConcurrentPerIP int
	// RateLimit is "<count>/<duration>" with a ms|s|m|h suffix, e.g.
	// "100/1s". Empty disables the per-IP connection-open rate limit.
	RateLimit string

	// MaxAuthFailures, AuthLockoutTime, MaxAuthLockoutTime and
	// ExponentialBackoff parameterize the auth limiter a protocol handler
	// (e.g. an HTTP Basic/TLS-client-cert auth layer) consults; the
	// listener constructs the limiter but does not call it itself, since
	// "authentication" is protocol-specific.
	MaxAuthFailures    int
	AuthLockoutTime    time.Duration
	MaxAuthLockoutTime time.Duration
	ExponentialBackoff bool

	// IdleTimeoutMs closes a Connection after this many idle milliseconds.
	IdleTimeoutMs int

	// HTTP/2-facing SETTINGS defaults (spec §6); consumed by whatever
	// http2.Connection the accepted Connection's Handler constructs.
	MaxHeaderListSize    uint32
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	EnablePush           bool
	HeaderTableSize      uint32

	// Loops is how many reactor.SelectorLoop workers the listener spreads
	// accepted connections across, round-robin. Default 1.
	Loops int
	// MaxConcurrentHandshakes bounds how many TLS handshakes run at once
	// across all accepted connections (spec §5's delegated worker pool);
	// zero uses constants.DefaultHandshakeConcurrency. Ignored unless Secure.
	MaxConcurrentHandshakes int
	// OutboundMemLimit/OutboundWatermark size each Connection's outbound
	// queue (pkg/buffer); zero uses pkg/constants defaults.
	OutboundMemLimit  int64
	OutboundWatermark int64
}

// DefaultConfig returns a Config with the package/spec defaults applied:
// no TLS, no rate limiting, constants.DefaultIdleTimeout, a single loop.
func DefaultConfig(port int) Config {
	return Config{
		Port:                    port,
		ClientAuth:              tlsengine.ClientAuthNone,
		ALPN:                    []string{"h2", "http/1.1"},
		IdleTimeoutMs:           int(constants.DefaultIdleTimeout / time.Millisecond),
		MaxHeaderListSize:       constants.DefaultMaxHeaderListSize,
		MaxConcurrentStreams:    constants.DefaultMaxConcurrentStream,
		InitialWindowSize:       constants.DefaultInitialWindowSize,
		MaxFrameSize:            constants.DefaultMaxFrameSize,
		HeaderTableSize:         constants.DefaultHpackTableSize,
		Loops:                   1,
		MaxConcurrentHandshakes: constants.DefaultHandshakeConcurrency,
	}
}

// ParsedRateLimit is a RateLimit string split into its count/window parts.
type ParsedRateLimit struct {
	Count  int
	Window time.Duration
}

// ParseRateLimit parses "<count>/<duration>" with a ms|s|m|h suffix, e.g.
// "100/1s" or "5/500ms". An empty string returns the zero value with
// ok=false (rate limiting disabled).
func ParseRateLimit(s string) (ParsedRateLimit, bool, error) {
	if s == "" {
		return ParsedRateLimit{}, false, nil
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return ParsedRateLimit{}, false, errors.NewValidationError(fmt.Sprintf("rateLimit %q must be <count>/<duration>", s))
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return ParsedRateLimit{}, false, errors.NewValidationError(fmt.Sprintf("rateLimit %q has an invalid count", s))
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil {
		return ParsedRateLimit{}, false, errors.NewValidationError(fmt.Sprintf("rateLimit %q has an invalid duration: %v", s, err))
	}
	return ParsedRateLimit{Count: count, Window: window}, true, nil
}

// Validate checks the structural requirements spec §6 implies: a bindable
// port, a keystore when Secure is set, and a well-formed RateLimit. It does
// not touch the filesystem; keystore loading errors surface from Listen.
func Validate(cfg Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.NewValidationError(fmt.Sprintf("listener port %d out of range", cfg.Port))
	}
	if cfg.Secure && cfg.KeystoreFile == "" {
		return errors.NewValidationError("secure listener requires keystoreFile")
	}
	if cfg.MaxConcurrentPerIP < 0 {
		return errors.NewValidationError("maxConcurrentPerIP cannot be negative")
	}
	if _, _, err := ParseRateLimit(cfg.RateLimit); err != nil {
		return err
	}
	if cfg.Loops < 0 {
		return errors.NewValidationError("loops cannot be negative")
	}
	if cfg.MaxConcurrentHandshakes < 0 {
		return errors.NewValidationError("maxConcurrentHandshakes cannot be negative")
	}
	for _, v := range cfg.Protocols {
		if tlsengine.GetVersionName(v) == "Unknown" {
			return errors.NewValidationError(fmt.Sprintf("protocols: unrecognized TLS version 0x%04x", v))
		}
	}
	return nil
}

// deprecatedProtocols returns the subset of cfg.Protocols older than TLS
// 1.2, for New's startup warning — Validate accepts them (a caller may
// need legacy peer compatibility) but New should make the tradeoff visible.
func deprecatedProtocols(protocols []uint16) []string {
	var names []string
	for _, v := range protocols {
		if tlsengine.IsVersionDeprecated(v) {
			names = append(names, tlsengine.GetVersionName(v))
		}
	}
	return names
}
