package tlsengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/gumdrop/gumdrop/pkg/reactor"
)

// ConnectionState summarizes the negotiated parameters of a completed
// handshake, independent of whether the underlying engine is crypto/tls or
// some future DTLS implementation.
type ConnectionState struct {
	Version           uint16
	CipherSuite       uint16
	NegotiatedProto   string
	ServerName        string
	HandshakeComplete bool
}

// Callbacks are invoked by an Engine's background pump as ciphertext is
// decrypted and the handshake progresses. Every callback is posted from the
// engine's own goroutine; implementations (pkg/conn) are expected to forward
// the call onto the owning SelectorLoop rather than act on it directly, so
// that all Connection state mutation stays confined to the loop goroutine.
type Callbacks struct {
	OnPlaintext         func([]byte)
	OnHandshakeComplete func(ConnectionState)
	OnClosed            func(error)
}

// Engine is the wrap/unwrap + delegated-task contract described in spec
// §4.B: given ciphertext arriving from the network it produces plaintext for
// the handler (Unwrap), and given plaintext from the handler it produces
// ciphertext for the wire (Wrap). The handshake itself is the delegated
// CPU-bound task spec §5 describes: it runs on pool, bounding how many
// handshakes run concurrently, with its continuation posted to loop before
// the (cheap, I/O-bound) record-reading pump starts on its own goroutine.
type Engine interface {
	// Start begins the engine's background processing: the handshake runs
	// as a pool.Submit task (pool/loop nil falls back to an unbounded
	// goroutine, e.g. in tests with no reactor wiring). Must be called
	// exactly once, before any Unwrap/Wrap call.
	Start(cb Callbacks, pool *reactor.WorkerPool, loop *reactor.SelectorLoop)

	// Unwrap feeds ciphertext received from the network. Never blocks;
	// resulting plaintext and handshake completion arrive later via
	// Callbacks from the pump goroutine.
	Unwrap(cipherIn []byte) error

	// Wrap encrypts plaintext from the handler and returns the ciphertext
	// to write to the wire, together with any handshake records the engine
	// has queued. Non-empty plaintext is rejected until HandshakeComplete
	// is true; Wrap(nil) may be called at any time to drain handshake
	// ciphertext.
	Wrap(plaintext []byte) ([]byte, error)

	HandshakeComplete() bool
	ConnectionState() ConnectionState

	// NextTimeout surfaces a retransmission deadline for engines that need
	// one (DTLS); ok is false for the TLS engine, which needs none.
	NextTimeout() (d time.Duration, ok bool)

	Close() error
}

// tlsEngine is the crypto/tls-backed Engine implementation. It wraps a
// tls.Conn around an in-process pipeConn: the pipeConn never touches a real
// socket, so all I/O crypto/tls performs is satisfied entirely by Unwrap
// feeding ciphertext in and Wrap draining ciphertext out.
type tlsEngine struct {
	conn   *tls.Conn
	pipe   *pipeConn
	isWrap func(p []byte) (int, error)

	mu      sync.Mutex
	cb      Callbacks
	started bool
	hsDone  bool
	hsErr   error
	state   ConnectionState
}

// NewServerEngine builds an Engine that performs the server side of a TLS
// handshake using cfg. cfg should already have certificates, ClientAuth and
// ALPN protocols configured by the listener.
func NewServerEngine(cfg *tls.Config) Engine {
	p := newPipeConn()
	return &tlsEngine{conn: tls.Server(p, cfg), pipe: p}
}

// NewClientEngine builds an Engine that performs the client side of a TLS
// handshake. pkg/listener's Dialer does not use it (its TLS comes from
// pkg/transport); the tests pair it with NewServerEngine.
func NewClientEngine(cfg *tls.Config) Engine {
	p := newPipeConn()
	return &tlsEngine{conn: tls.Client(p, cfg), pipe: p}
}

// Start submits the handshake to pool, bounding concurrent in-flight
// handshakes to pool's concurrency cap; once it completes the (cheap,
// blocking-on-I/O rather than CPU-bound) record-reading pump runs on its
// own goroutine, same as before pool existed. pool or loop nil — e.g. a
// bare Engine built outside a Listener/Dialer, as engine_test.go does —
// falls back to running the whole thing on one unbounded goroutine.
func (e *tlsEngine) Start(cb Callbacks, pool *reactor.WorkerPool, loop *reactor.SelectorLoop) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.cb = cb
	e.mu.Unlock()

	if pool == nil || loop == nil {
		go e.pump()
		return
	}
	err := pool.Submit(reactor.Task{
		Run: func(ctx context.Context) (any, error) {
			return nil, e.handshake()
		},
		Continuation: func(_ any, err error) {
			if err == nil {
				go e.readLoop()
			}
		},
		Loop: loop,
	})
	if err != nil {
		// Pool is shutting down or its context was cancelled; fall back
		// rather than silently dropping the connection's handshake.
		go e.pump()
	}
}

func (e *tlsEngine) pump() {
	if err := e.handshake(); err != nil {
		return
	}
	e.readLoop()
}

// handshake runs the (possibly CPU-bound, certificate-verifying) TLS
// handshake and reports completion or failure via Callbacks.
func (e *tlsEngine) handshake() error {
	if err := e.conn.Handshake(); err != nil {
		e.mu.Lock()
		e.hsErr = err
		e.mu.Unlock()
		if e.cb.OnClosed != nil {
			e.cb.OnClosed(err)
		}
		return err
	}

	cs := e.conn.ConnectionState()
	state := ConnectionState{
		Version:           cs.Version,
		CipherSuite:       cs.CipherSuite,
		NegotiatedProto:   cs.NegotiatedProtocol,
		ServerName:        cs.ServerName,
		HandshakeComplete: true,
	}
	e.mu.Lock()
	e.hsDone = true
	e.state = state
	e.mu.Unlock()
	if e.cb.OnHandshakeComplete != nil {
		e.cb.OnHandshakeComplete(state)
	}
	return nil
}

// readLoop drains decrypted records until the connection closes or errors.
// It never touches pool: once the handshake is done this is ordinary
// blocking I/O, not the CPU-bound work pool exists to bound.
func (e *tlsEngine) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 && e.cb.OnPlaintext != nil {
			plain := make([]byte, n)
			copy(plain, buf[:n])
			e.cb.OnPlaintext(plain)
		}
		if err != nil {
			if e.cb.OnClosed != nil {
				e.cb.OnClosed(err)
			}
			return
		}
	}
}

func (e *tlsEngine) Unwrap(cipherIn []byte) error {
	if len(cipherIn) == 0 {
		return nil
	}
	_, err := e.pipe.in.Write(cipherIn)
	return err
}

func (e *tlsEngine) Wrap(plaintext []byte) ([]byte, error) {
	if len(plaintext) > 0 && !e.HandshakeComplete() {
		return nil, fmt.Errorf("tlsengine: Wrap called before handshake completed")
	}
	if len(plaintext) > 0 {
		if _, err := e.conn.Write(plaintext); err != nil {
			return nil, err
		}
	}
	return e.pipe.out.DrainAvailable(), nil
}

func (e *tlsEngine) HandshakeComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hsDone
}

func (e *tlsEngine) ConnectionState() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NextTimeout reports no retransmission deadline: TLS over a reliable
// transport needs none. A DTLS engine, layered over UDP, would surface its
// next retransmission deadline here instead.
func (e *tlsEngine) NextTimeout() (time.Duration, bool) {
	return 0, false
}

func (e *tlsEngine) Close() error {
	return e.pipe.Close()
}
