package listener

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gumdrop/gumdrop/pkg/conn"
	"github.com/gumdrop/gumdrop/pkg/reactor"
	"github.com/gumdrop/gumdrop/pkg/timing"
	"github.com/gumdrop/gumdrop/pkg/transport"
)

// ProxyConfig mirrors transport.ProxyConfig at the listener/Dial API
// boundary, the same split the teacher keeps between client.ProxyConfig
// and transport.ProxyConfig so pkg/transport stays free of an import on
// this package.
type ProxyConfig = transport.ProxyConfig

// DialOptions configures an outbound Connection (spec §4.E: "initiates an
// outbound Connection"), grounded on the teacher's client.Options /
// transport.Config split between scheme/host/port, TLS, and proxy dialing.
type DialOptions struct {
	Scheme string // "http" or "https"
	Host   string
	Port   int

	SNI         string
	DisableSNI  bool
	InsecureTLS bool
	TLSConfig   *tls.Config
	ALPN        []string

	ConnTimeout time.Duration
	Proxy       *ProxyConfig

	// ReuseConnection checks out an idle pooled connection to Host:Port
	// instead of always dialing fresh, using the Dialer's underlying
	// transport.Transport host pool. A Connection returned by Dial never
	// goes back to the pool: closing it closes the socket. Only
	// ConnectPooled's release func checks a connection back in.
	ReuseConnection bool

	IdleTimeout       time.Duration
	OutboundMemLimit  int64
	OutboundWatermark int64
}

// Dialer establishes outbound Connections bound to a caller-supplied loop.
// It wraps a teacher-grounded transport.Transport: DNS resolution, proxy
// CONNECT/SOCKS dialing, and the TLS handshake all happen synchronously on
// the calling goroutine (outbound dials are one-shot setup, unlike the
// steady-state non-blocking I/O the reactor does for accepted connections),
// after which the resulting net.Conn — already a *tls.Conn when Scheme is
// "https", needing no further engine — is handed to conn.New.
type Dialer struct {
	tp  *transport.Transport
	log *logrus.Logger
}

// NewDialer builds a Dialer backed by a fresh connection pool using
// transport.DefaultPoolConfig. A nil log falls back to
// logrus.StandardLogger(), matching Listener's convention.
func NewDialer(log *logrus.Logger) *Dialer {
	return NewDialerWithPoolConfig(transport.DefaultPoolConfig(), log)
}

// NewDialerWithPoolConfig builds a Dialer with an explicit pool
// configuration, for a caller that wants non-default
// MaxIdleConnsPerHost/MaxConnsPerHost/MaxIdleTime behavior for
// DialOptions.ReuseConnection.
func NewDialerWithPoolConfig(poolConfig transport.PoolConfig, log *logrus.Logger) *Dialer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dialer{tp: transport.NewWithConfig(poolConfig), log: log}
}

// Dial connects to opts.Host:opts.Port (optionally via opts.Proxy) and
// returns a Connection bound to loop on which Open has been called. Open
// is posted to the loop, so the Connection reaches OPEN and fires
// handler.OnOpen on the loop goroutine, possibly after Dial returns; no
// TLS engine is involved, since the handshake — if any — already
// completed synchronously above.
func (d *Dialer) Dial(ctx context.Context, loop *reactor.SelectorLoop, opts DialOptions, handler conn.Handler) (*conn.Connection, error) {
	tlsConfig := opts.TLSConfig
	if len(opts.ALPN) > 0 {
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		} else {
			cp := tlsConfig.Clone()
			tlsConfig = cp
		}
		tlsConfig.NextProtos = opts.ALPN
	}

	cfg := transport.Config{
		Scheme:          opts.Scheme,
		Host:            opts.Host,
		Port:            opts.Port,
		SNI:             opts.SNI,
		DisableSNI:      opts.DisableSNI,
		InsecureTLS:     opts.InsecureTLS,
		ConnTimeout:     opts.ConnTimeout,
		Proxy:           opts.Proxy,
		TLSConfig:       tlsConfig,
		ReuseConnection: opts.ReuseConnection,
	}

	timer := timing.NewTimer()
	netConn, metadata, err := d.tp.Connect(ctx, cfg, timer)
	if err != nil {
		return nil, err
	}
	m := timer.GetMetrics()
	d.log.WithFields(logrus.Fields{
		"host":          opts.Host,
		"port":          opts.Port,
		"dns_lookup":    m.DNSLookup,
		"tcp_connect":   m.TCPConnect,
		"tls_handshake": m.TLSHandshake,
		"reused":        metadata != nil && metadata.ConnectionReused,
	}).Debug("listener: dial established")

	c := conn.New(loop, netConn, handler, conn.Options{
		IdleTimeout:       opts.IdleTimeout,
		OutboundMemLimit:  opts.OutboundMemLimit,
		OutboundWatermark: opts.OutboundWatermark,
	})
	c.Open()
	return c, nil
}

// ConnectPooled dials opts.Host:opts.Port directly through the Dialer's
// connection pool, bypassing the reactor Connection wrapper Dial builds.
// It's for short request/response exchanges that want to check a
// connection back in when done rather than tear the socket down every
// time — e.g. repeated health-check probes against the same upstream, or
// a protocol handler that drives the net.Conn itself instead of handing
// it to a SelectorLoop. The returned release func must be called exactly
// once; keepAlive=true returns the connection to the pool for reuse,
// false closes it.
func (d *Dialer) ConnectPooled(ctx context.Context, opts DialOptions) (netConn net.Conn, release func(keepAlive bool), err error) {
	cfg := transport.Config{
		Scheme:          opts.Scheme,
		Host:            opts.Host,
		Port:            opts.Port,
		SNI:             opts.SNI,
		DisableSNI:      opts.DisableSNI,
		InsecureTLS:     opts.InsecureTLS,
		ConnTimeout:     opts.ConnTimeout,
		Proxy:           opts.Proxy,
		TLSConfig:       opts.TLSConfig,
		ReuseConnection: true,
	}

	timer := timing.NewTimer()
	netConn, metadata, err := d.tp.Connect(ctx, cfg, timer)
	if err != nil {
		return nil, nil, err
	}
	m := timer.GetMetrics()
	d.log.WithFields(logrus.Fields{
		"host":        opts.Host,
		"port":        opts.Port,
		"reused":      metadata != nil && metadata.ConnectionReused,
		"dns_lookup":  m.DNSLookup,
		"tcp_connect": m.TCPConnect,
	}).Debug("listener: pooled dial established")

	release = func(keepAlive bool) {
		if keepAlive {
			d.tp.ReleaseConnectionWithMetadata(opts.Host, opts.Port, netConn, metadata)
		} else {
			d.tp.CloseConnectionWithMetadata(opts.Host, opts.Port, netConn, metadata)
		}
	}
	return netConn, release, nil
}

// PoolStats reports the underlying transport's connection-pool counters
// (active/idle connections, lifetime reuse count), for a caller
// instrumenting how effectively ConnectPooled reuse is working.
func (d *Dialer) PoolStats() transport.PoolStats {
	return d.tp.PoolStats()
}

// Close releases pooled connections held by the underlying transport.
func (d *Dialer) Close() error {
	return d.tp.Close()
}
