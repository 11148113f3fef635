package tlsengine

import (
	"crypto/tls"
	"fmt"

	"golang.org/x/net/idna"
)

// TLS protocol versions a Listener's Config.Protocols allow-list (spec §6)
// may name. VersionSSL30 is deliberately absent: gumdrop never negotiates
// it, so there is no profile or allow-list entry for it to select.
const (
	VersionTLS10 uint16 = tls.VersionTLS10
	VersionTLS11 uint16 = tls.VersionTLS11
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// VersionProfile is a (min, max) TLS version range. ProfileSecure is the
// only one gumdrop ships as a default; Config.Protocols (spec §6) lets a
// caller name an explicit allow-list instead of picking a named profile.
type VersionProfile struct {
	Min uint16
	Max uint16
}

// ProfileSecure is BuildServerTLSConfig's default when ServerConfig.Profile
// and ServerConfig.Protocols are both unset: TLS 1.2+, matching the
// "package defaults" ClientAuth/CipherSuites/Protocols doc comments in
// pkg/listener.Config promise.
var ProfileSecure = VersionProfile{Min: VersionTLS12, Max: VersionTLS13}

// GetVersionName returns a human-readable name for a TLS version constant,
// used both for Validate's error messages and New's startup log line.
func GetVersionName(version uint16) string {
	switch version {
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// IsVersionDeprecated reports whether version predates TLS 1.2, the floor
// spec §6's CipherSuites/Protocols commentary calls "secure" — New uses
// this to warn at startup rather than reject, since a caller may deliberately
// need TLS 1.0/1.1 for legacy peer compatibility.
func IsVersionDeprecated(version uint16) bool {
	return version < VersionTLS12
}

// Cipher suites ApplyCipherSuites picks from, ordered strongest first.
// Only suites gumdrop's profile floor (TLS 1.0) and up ever need: no
// RSA-key-exchange (non-forward-secret) suite is offered by default.
var (
	CipherSuitesTLS13 = []uint16{
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_CHACHA20_POLY1305_SHA256,
	}

	CipherSuitesTLS12Secure = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}

	CipherSuitesTLS12Compatible = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	}
)

// GetCipherSuiteName returns a human-readable name for any cipher suite
// constant crypto/tls defines, not just ones in the tables above — a
// caller's explicit ServerConfig.CipherSuites allow-list may include
// suites gumdrop doesn't pick by default. Used by New's startup log line.
func GetCipherSuiteName(suite uint16) string {
	if name := tls.CipherSuiteName(suite); name != "" {
		return name
	}
	return "Unknown"
}

// ApplyVersionProfile applies a version range to a tls.Config.
func ApplyVersionProfile(config *tls.Config, profile VersionProfile) {
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
}

// ApplyCipherSuites picks a default cipher-suite allow-list for minVersion,
// used only when the caller didn't supply an explicit one via
// ServerConfig.CipherSuites.
func ApplyCipherSuites(config *tls.Config, minVersion uint16) {
	switch {
	case minVersion >= VersionTLS13:
		// TLS 1.3 negotiates its own suites; crypto/tls ignores CipherSuites.
		config.CipherSuites = nil
	case minVersion >= VersionTLS12:
		config.CipherSuites = CipherSuitesTLS12Secure
	default:
		config.CipherSuites = CipherSuitesTLS12Compatible
	}
}

// versionRangeFromProtocols derives a (min, max) pair from an explicit
// version allow-list (pkg/listener.Config.Protocols, spec §6). Returns
// ok=false for an empty list so the caller falls back to Profile.
func versionRangeFromProtocols(protocols []uint16) (min, max uint16, ok bool) {
	if len(protocols) == 0 {
		return 0, 0, false
	}
	min, max = protocols[0], protocols[0]
	for _, v := range protocols[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, true
}

// ClientAuthMode mirrors the listener-facing ClientAuth option from spec §6
// (want/need/none) without exposing crypto/tls's enum directly.
type ClientAuthMode string

const (
	ClientAuthNone ClientAuthMode = "none"
	ClientAuthWant ClientAuthMode = "want"
	ClientAuthNeed ClientAuthMode = "need"
)

func (m ClientAuthMode) toStdlib() (tls.ClientAuthType, error) {
	switch m {
	case "", ClientAuthNone:
		return tls.NoClientCert, nil
	case ClientAuthWant:
		return tls.VerifyClientCertIfGiven, nil
	case ClientAuthNeed:
		return tls.RequireAndVerifyClientCert, nil
	default:
		return 0, fmt.Errorf("tlsengine: unknown ClientAuth mode %q", m)
	}
}

// ServerConfig collects the listener-facing TLS options named in spec §6
// (KeystoreFile, KeystorePass, ClientAuth, CipherSuites, Protocols, ALPN)
// before they are compiled into a crypto/tls.Config.
type ServerConfig struct {
	Certificates []tls.Certificate
	ClientCAs    *tls.Config // reused only for its RootCAs/ClientCAs fields when set by the caller
	ClientAuth   ClientAuthMode

	// Profile is the version range to use when Protocols is empty.
	// Zero value falls back to ProfileSecure.
	Profile VersionProfile
	// Protocols is an explicit TLS version allow-list (spec §6); when set
	// it overrides Profile, taking its min/max as the negotiated range.
	Protocols []uint16
	// CipherSuites is an explicit cipher-suite allow-list (spec §6); when
	// set it overrides ApplyCipherSuites's version-based default.
	CipherSuites []uint16

	ALPNProtos []string
}

// BuildServerTLSConfig compiles a ServerConfig into a crypto/tls.Config,
// applying the version profile (or explicit Protocols allow-list) and
// cipher-suite defaults (or explicit CipherSuites allow-list) and carrying
// over ALPN protocol names.
func BuildServerTLSConfig(sc ServerConfig) (*tls.Config, error) {
	if len(sc.Certificates) == 0 {
		return nil, fmt.Errorf("tlsengine: ServerConfig requires at least one certificate")
	}
	clientAuth, err := sc.ClientAuth.toStdlib()
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		Certificates: sc.Certificates,
		ClientAuth:   clientAuth,
		NextProtos:   sc.ALPNProtos,
	}

	minV, maxV, ok := versionRangeFromProtocols(sc.Protocols)
	if !ok {
		profile := sc.Profile
		if profile.Min == 0 && profile.Max == 0 {
			profile = ProfileSecure
		}
		minV, maxV = profile.Min, profile.Max
	}
	ApplyVersionProfile(cfg, VersionProfile{Min: minV, Max: maxV})

	if len(sc.CipherSuites) > 0 {
		cfg.CipherSuites = sc.CipherSuites
	} else {
		ApplyCipherSuites(cfg, minV)
	}

	if sc.ClientCAs != nil {
		cfg.ClientCAs = sc.ClientCAs.ClientCAs
	}
	return cfg, nil
}

// NormalizeServerName converts a SNI hostname to its ASCII (punycode) form
// per RFC 5280/6066, so comparisons against configured server names are
// stable regardless of the client's Unicode normalization.
func NormalizeServerName(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	return idna.Lookup.ToASCII(name)
}
