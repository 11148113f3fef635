package listener

import (
	"crypto/tls"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gumdrop/gumdrop/pkg/conn"
	"github.com/gumdrop/gumdrop/pkg/constants"
	"github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/ratelimit"
	"github.com/gumdrop/gumdrop/pkg/reactor"
	"github.com/gumdrop/gumdrop/pkg/tlsengine"
)

// HandlerFactory builds a fresh conn.Handler for each accepted Connection.
// Protocol modules (HTTP/2, WebSocket) are wired in by providing one of
// these rather than a single shared Handler, since a Handler holds
// per-connection state (HPACK tables, stream maps).
type HandlerFactory func(remote net.Addr) conn.Handler

// Listener binds one TCP port and feeds accepted connections to a pool of
// reactor.SelectorLoops (spec §4.E, §5's "each Connection is bound to
// exactly one loop for its lifetime"). It is the server-side half of the
// module the teacher's pkg/client/pkg/transport implement the client-side
// half of; Go's net.Listener/net.Conn stand in for the channel/socket
// abstraction the spec describes.
type Listener struct {
	cfg     Config
	factory HandlerFactory
	log     *logrus.Logger

	tlsServerConfig *tls.Config // nil unless cfg.Secure

	loops    []*reactor.SelectorLoop
	nextLoop uint64

	// handshakePool bounds concurrent TLS handshakes across every accepted
	// Connection (spec §5's delegated worker pool), independent of which
	// loop the Connection lands on.
	handshakePool *reactor.WorkerPool

	connLimiter *ratelimit.ConnectionLimiter
	authLimiter *ratelimit.AuthLimiter
	sweeper     *ratelimit.Sweeper

	ln     net.Listener
	closed atomic.Bool
}

// New validates cfg, loads keystore material if cfg.Secure, and starts
// cfg.Loops (or 1) reactor.SelectorLoops. It does not bind a socket yet;
// call Listen for that.
func New(cfg Config, factory HandlerFactory, log *logrus.Logger) (*Listener, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	l := &Listener{cfg: cfg, factory: factory, log: log}

	if cfg.Secure {
		if deprecated := deprecatedProtocols(cfg.Protocols); len(deprecated) > 0 {
			log.WithField("protocols", deprecated).Warn("listener: Protocols allow-list includes deprecated TLS versions")
		}
		cert, err := loadServerCertificate(cfg)
		if err != nil {
			return nil, err
		}
		sc := tlsengine.ServerConfig{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   cfg.ClientAuth,
			Protocols:    cfg.Protocols,
			CipherSuites: cfg.CipherSuites,
			ALPNProtos:   cfg.ALPN,
		}
		if cfg.ClientAuth != tlsengine.ClientAuthNone {
			sc.ClientCAs = loadClientCAs(cert)
		}
		tlsConfig, err := tlsengine.BuildServerTLSConfig(sc)
		if err != nil {
			return nil, err
		}
		l.tlsServerConfig = tlsConfig
		l.logTLSConfig(log, tlsConfig)

		handshakeConcurrency := cfg.MaxConcurrentHandshakes
		if handshakeConcurrency <= 0 {
			handshakeConcurrency = constants.DefaultHandshakeConcurrency
		}
		l.handshakePool = reactor.NewWorkerPool(handshakeConcurrency, 0)
	}

	numLoops := cfg.Loops
	if numLoops <= 0 {
		numLoops = 1
	}
	l.loops = make([]*reactor.SelectorLoop, numLoops)
	for i := range l.loops {
		loop := reactor.New(0)
		loop.Start()
		l.loops[i] = loop
	}

	if cfg.MaxConcurrentPerIP > 0 || cfg.RateLimit != "" {
		parsed, enabled, err := ParseRateLimit(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		count, window := 0, time.Duration(0)
		if enabled {
			count, window = parsed.Count, parsed.Window
		}
		l.connLimiter = ratelimit.NewConnectionLimiter(cfg.MaxConcurrentPerIP, count, window)
	}
	if cfg.MaxAuthFailures > 0 {
		l.authLimiter = ratelimit.NewAuthLimiter(ratelimit.AuthLimiterConfig{
			MaxFailures:        cfg.MaxAuthFailures,
			LockoutTime:        cfg.AuthLockoutTime,
			MaxLockoutTime:     cfg.MaxAuthLockoutTime,
			ExponentialBackoff: cfg.ExponentialBackoff,
		})
	}
	if l.connLimiter != nil || l.authLimiter != nil {
		l.sweeper = ratelimit.NewSweeper(log)
		if l.connLimiter != nil {
			l.sweeper.AddConnectionLimiter(l.connLimiter, constants.DefaultSweepInterval)
		}
		if l.authLimiter != nil {
			lockoutCeiling := cfg.MaxAuthLockoutTime
			if lockoutCeiling <= 0 {
				lockoutCeiling = constants.DefaultMaxAuthLockoutTime
			}
			l.sweeper.AddAuthLimiter(l.authLimiter, constants.DefaultSweepInterval, lockoutCeiling)
		}
		l.sweeper.Start()
	}

	return l, nil
}

// AuthLimiter exposes the configured auth-failure limiter (nil if
// MaxAuthFailures was zero) so a protocol handler can consult it during
// credential checks (spec §6, §7's "Auth lockout").
func (l *Listener) AuthLimiter() *ratelimit.AuthLimiter { return l.authLimiter }

// Listen binds cfg.Port and starts accepting connections in the background.
// It returns once the socket is bound; Accept errors after that point are
// logged and do not stop the loop (a single bad accept shouldn't take the
// whole listener down).
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(l.cfg.Port)))
	if err != nil {
		return errors.NewConnectionError("0.0.0.0", l.cfg.Port, err)
	}
	l.ln = ln
	go l.acceptLoop()
	return nil
}

// Addr returns the bound address. Only valid after a successful Listen.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) acceptLoop() {
	for {
		netConn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}
			l.log.WithError(err).Warn("listener: accept failed")
			continue
		}
		l.handleAccepted(netConn)
	}
}

func (l *Listener) handleAccepted(netConn net.Conn) {
	host, _, err := net.SplitHostPort(netConn.RemoteAddr().String())
	if err != nil {
		host = netConn.RemoteAddr().String()
	}

	if l.connLimiter != nil {
		if err := l.connLimiter.AllowConnection(host); err != nil {
			l.log.WithField("remote", host).WithError(err).Debug("listener: rejected by rate limit")
			_ = netConn.Close()
			return
		}
		l.connLimiter.ConnectionOpened(host)
	}

	loop := l.pickLoop()
	var engine tlsengine.Engine
	if l.tlsServerConfig != nil {
		engine = tlsengine.NewServerEngine(l.tlsServerConfig)
	}

	handler := l.wrapHandler(host, l.factory(netConn.RemoteAddr()))
	c := conn.New(loop, netConn, handler, conn.Options{
		Engine:            engine,
		Pool:              l.handshakePool,
		IdleTimeout:       idleTimeoutFromMs(l.cfg.IdleTimeoutMs),
		OutboundMemLimit:  l.cfg.OutboundMemLimit,
		OutboundWatermark: l.cfg.OutboundWatermark,
	})
	c.Open()
}

// wrapHandler releases the connection-limiter slot on close, so
// ConnectionOpened/ConnectionClosed stay balanced regardless of which
// CloseReason ends the Connection (spec §7 invariant: "every acquired
// worker slot or scheduled timer has a matching release").
func (l *Listener) wrapHandler(host string, inner conn.Handler) conn.Handler {
	if l.connLimiter == nil {
		return inner
	}
	return &releasingHandler{Handler: inner, host: host, limiter: l.connLimiter}
}

type releasingHandler struct {
	conn.Handler
	host    string
	limiter *ratelimit.ConnectionLimiter
}

func (h *releasingHandler) OnClose(reason conn.CloseReason, err error) {
	h.limiter.ConnectionClosed(h.host)
	h.Handler.OnClose(reason, err)
}

// logTLSConfig reports the compiled MinVersion/cipher suites at startup
// using tlsengine's name lookups, so an operator can see what New's
// deprecated-version warning (if any) actually resolved to.
func (l *Listener) logTLSConfig(log *logrus.Logger, cfg *tls.Config) {
	suiteNames := make([]string, len(cfg.CipherSuites))
	for i, s := range cfg.CipherSuites {
		suiteNames[i] = tlsengine.GetCipherSuiteName(s)
	}
	log.WithFields(logrus.Fields{
		"min_version":   tlsengine.GetVersionName(cfg.MinVersion),
		"max_version":   tlsengine.GetVersionName(cfg.MaxVersion),
		"cipher_suites": suiteNames,
	}).Debug("listener: TLS config compiled")
}

func idleTimeoutFromMs(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (l *Listener) pickLoop() *reactor.SelectorLoop {
	n := atomic.AddUint64(&l.nextLoop, 1)
	return l.loops[int(n-1)%len(l.loops)]
}

// Close stops accepting new connections and stops every loop this
// Listener started. In-flight connections are not forcibly closed; each
// drains on its own loop's remaining tasks.
func (l *Listener) Close() error {
	l.closed.Store(true)
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	if l.sweeper != nil {
		l.sweeper.Stop()
	}
	if l.handshakePool != nil {
		_ = l.handshakePool.Shutdown()
	}
	for _, loop := range l.loops {
		loop.Stop()
	}
	return err
}
