// Package conn implements gumdrop's per-connection byte pipeline (spec
// §3/§4.D): inbound bytes flow kernel -> reactor.Channel -> (optional TLS
// engine) -> Handler; handler writes flow the other way -> (optional TLS
// engine) -> reactor.Channel -> kernel.
package conn

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/gumdrop/gumdrop/pkg/buffer"
	"github.com/gumdrop/gumdrop/pkg/constants"
	"github.com/gumdrop/gumdrop/pkg/errors"
	"github.com/gumdrop/gumdrop/pkg/reactor"
	"github.com/gumdrop/gumdrop/pkg/tlsengine"
)

// Options configures a Connection at construction time.
type Options struct {
	// Engine, if non-nil, is started by Open and the Connection stays
	// in TLS_HANDSHAKE until it reports completion (spec §4.D).
	Engine tlsengine.Engine
	// Pool bounds concurrent TLS handshakes (spec §5's delegated worker
	// pool); nil falls back to Engine's own unbounded per-connection
	// goroutine, e.g. when no Listener-wide pool was configured.
	Pool *reactor.WorkerPool
	// IdleTimeout closes the connection abortively if no bytes are read for
	// this long; writes do not rearm it. Zero disables idle timeout.
	IdleTimeout time.Duration
	// OutboundMemLimit bounds how much of the outbound queue is kept in
	// memory before it spills to disk (pkg/buffer).
	OutboundMemLimit int64
	// OutboundWatermark is the pending-byte threshold past which Send
	// reports back-pressure (spec §4.D).
	OutboundWatermark int64
}

func (o Options) withDefaults() Options {
	if o.OutboundMemLimit <= 0 {
		o.OutboundMemLimit = constants.DefaultBodyMemLimit
	}
	if o.OutboundWatermark <= 0 {
		o.OutboundWatermark = constants.OutboundWatermark
	}
	return o
}

// Connection is the per-TCP-stream-or-per-UDP-peer state machine described
// in spec §3: identifier, state, buffers, back-pressure flag, owning loop,
// handler, optional TLS engine. Every field below is mutated only from the
// owning reactor.SelectorLoop goroutine; Send and Close are safe to call
// from any goroutine because they post to that loop.
type Connection struct {
	id         string
	loop       *reactor.SelectorLoop
	channel    *reactor.Channel
	localAddr  net.Addr
	remoteAddr net.Addr

	state   State
	handler Handler
	engine  tlsengine.Engine
	pool    *reactor.WorkerPool

	outbound     *buffer.Buffer
	backpressure bool // loop-owned; mirrored into backpressureFlag for Send's cross-goroutine read

	idleTimeout time.Duration
	idleTimer   *reactor.Timer

	closed           bool       // loop-owned
	closedFlag       atomic.Bool // mirrors closed for Send's cross-goroutine check
	backpressureFlag atomic.Bool
}

// New wires netConn into loop and returns a Connection in CONNECTING
// state. Call Open to complete setup and deliver the first handler
// callbacks; New and Open are split so the listener/dialer can register
// the Connection (e.g. in a rate limiter) before any bytes are processed.
func New(loop *reactor.SelectorLoop, netConn net.Conn, handler Handler, opts Options) *Connection {
	opts = opts.withDefaults()
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = netConn.RemoteAddr().String()
	}
	c := &Connection{
		id:          id,
		loop:        loop,
		localAddr:   netConn.LocalAddr(),
		remoteAddr:  netConn.RemoteAddr(),
		state:       StateConnecting,
		handler:     handler,
		engine:      opts.Engine,
		pool:        opts.Pool,
		outbound:    buffer.NewQueue(opts.OutboundMemLimit, opts.OutboundWatermark),
		idleTimeout: opts.IdleTimeout,
	}
	c.channel = reactor.NewChannel(loop, netConn, reactor.Callbacks{
		OnReadable: c.onReadable,
		OnWritable: c.onChannelWritable,
		OnError:    c.onChannelError,
	})
	return c
}

// ID is this connection's identifier (spec §3: "local+peer address pair,
// connector id" — the uuid stands in for the connector id half of that).
func (c *Connection) ID() string { return c.id }

// State reports the current lifecycle state. Only meaningful when called
// from the owning loop goroutine or the Handler callbacks it invokes.
func (c *Connection) State() State { return c.state }

func (c *Connection) LocalAddr() net.Addr  { return c.localAddr }
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// Open must be called once the Connection is registered with whatever
// bookkeeping (rate limiter, listener's connection set) the caller needs;
// it starts the TLS handshake if configured, or transitions straight to
// OPEN and fires Handler.OnOpen.
func (c *Connection) Open() {
	c.loop.Post(func() {
		c.armIdleTimer()
		if c.engine != nil {
			c.state = StateTLSHandshake
			c.engine.Start(tlsengine.Callbacks{
				OnPlaintext:         func(p []byte) { c.loop.Post(func() { c.deliver(p) }) },
				OnHandshakeComplete: func(tlsengine.ConnectionState) { c.loop.Post(c.completeHandshake) },
				OnClosed:            func(err error) { c.loop.Post(func() { c.fail(CloseTLSFailure, err) }) },
			}, c.pool, c.loop)
			return
		}
		c.state = StateOpen
		if c.handler != nil {
			c.handler.OnOpen(c)
		}
	})
}

func (c *Connection) completeHandshake() {
	if c.state != StateTLSHandshake {
		return
	}
	c.state = StateOpen
	if c.handler != nil {
		c.handler.OnOpen(c)
	}
}

// onReadable is the reactor.Channel callback for inbound bytes. Always
// runs on the owning loop goroutine (spec §4.C).
func (c *Connection) onReadable(data []byte) {
	if c.state == StateClosed {
		return
	}
	c.armIdleTimer()
	if c.engine != nil {
		if err := c.engine.Unwrap(data); err != nil {
			c.fail(CloseTLSFailure, err)
		}
		return // plaintext, if any, arrives later via OnPlaintext
	}
	c.deliver(data)
}

func (c *Connection) deliver(data []byte) {
	if c.state != StateOpen || len(data) == 0 {
		return
	}
	if c.handler != nil {
		c.handler.OnData(data)
	}
}

// Send queues data for the wire, encrypting it first if a TLS engine is
// configured. It returns blocked=true once the outbound backlog exceeds
// its watermark (spec §4.D): the caller should stop producing until the
// next OnWritable callback.
//
// Send is safe to call from any goroutine, including from a Handler
// callback already running on the owning loop: the write is always
// posted rather than applied inline, so a Handler that calls Send from
// inside OnData never reenters the outbound queue or channel mutation
// it's also the sole owner of. The returned back-pressure signal reflects
// the watermark as of just before this call, not necessarily this exact
// write's outcome — actual write failures surface asynchronously via
// Handler.OnError/OnClose, which matches how every other reactor event
// reaches the handler.
func (c *Connection) Send(data []byte) (blocked bool, err error) {
	if c.closedFlag.Load() {
		return false, errors.NewIOError("write", net.ErrClosed)
	}
	blocked = c.backpressureFlag.Load()
	cp := make([]byte, len(data))
	copy(cp, data)
	// Always posted, even when called from a Handler callback already
	// running on this loop: SelectorLoop.Post never blocks the caller on
	// the task actually running (it only enqueues), so a Handler posting
	// to its own loop just schedules the write for the next iteration
	// instead of risking reentrant mutation of outbound/channel state.
	c.loop.Post(func() { c.sendOnLoop(cp) })
	return blocked, nil
}

func (c *Connection) sendOnLoop(data []byte) {
	if c.state == StateClosed || c.state == StateClosing {
		return
	}
	out := data
	if c.engine != nil {
		if !c.engine.HandshakeComplete() {
			return
		}
		cipher, err := c.engine.Wrap(data)
		if err != nil {
			c.fail(CloseTLSFailure, err)
			return
		}
		out = cipher
	}
	if len(out) > 0 {
		if _, err := c.outbound.Write(out); err != nil {
			c.fail(CloseAbortive, err)
			return
		}
	}
	c.flushOutbound()
	c.backpressure = c.outbound.ExceedsWatermark()
	c.backpressureFlag.Store(c.backpressure)
}

// flushOutbound drains as much of the outbound queue as the channel's
// write pump will currently accept.
func (c *Connection) flushOutbound() {
	for {
		chunk, err := c.outbound.Peek(32 * 1024)
		if err != nil || len(chunk) == 0 {
			return
		}
		if !c.channel.Write(chunk) {
			return // would-block: leave chunk unconsumed, retry on OnWritable
		}
		_ = c.outbound.Consume(len(chunk))
	}
}

func (c *Connection) onChannelWritable() {
	wasBlocked := c.backpressure
	c.flushOutbound()
	c.backpressure = c.outbound.ExceedsWatermark()
	c.backpressureFlag.Store(c.backpressure)
	if wasBlocked && !c.backpressure && c.handler != nil {
		c.handler.OnWritable()
	}
}

func (c *Connection) onChannelError(err error) {
	if err == nil {
		return
	}
	c.fail(CloseAbortive, err)
}

// armIdleTimer is only ever called from code already running on c.loop's
// goroutine (Open's posted closure, or onReadable from a Channel callback),
// so it must use ScheduleLocal rather than Schedule to avoid deadlocking
// the loop against its own task queue.
func (c *Connection) armIdleTimer() {
	if c.idleTimeout <= 0 {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Cancel()
	}
	c.idleTimer = c.loop.ScheduleLocal(c.idleTimeout, func() {
		c.fail(CloseIdleTimeout, errors.NewTimeoutError("idle", c.idleTimeout))
	})
}

// fail abortively closes the connection, discarding any undrained
// outbound backlog (spec §4.C: "abortive" close discards pending writes).
func (c *Connection) fail(reason CloseReason, err error) {
	c.closeInternal(reason, err)
}

// Close requests a graceful close: the outbound backlog is handed to the
// channel's write pump as far as it accepts at that moment, and anything
// still queued is discarded when the socket is torn down. Safe to call
// from any goroutine.
func (c *Connection) Close() {
	c.loop.Post(func() {
		if c.state == StateClosed || c.state == StateClosing {
			return
		}
		c.state = StateClosing
		c.closeInternal(CloseGraceful, nil)
	})
}

func (c *Connection) closeInternal(reason CloseReason, err error) {
	if c.closed {
		return
	}
	if reason == CloseGraceful {
		// Best effort: hand whatever the channel's write pump will take
		// right now to the kernel before tearing down. Anything still
		// queued past that (pump busy, backlog too large) is discarded —
		// this is "graceful" relative to an abortive reset, not a
		// guaranteed full drain.
		c.flushOutbound()
	}
	c.closed = true
	c.closedFlag.Store(true)
	c.state = StateClosed
	if c.idleTimer != nil {
		c.idleTimer.Cancel()
	}
	if c.engine != nil {
		_ = c.engine.Close()
	}
	_ = c.outbound.Close()
	_ = c.channel.Close()
	if c.handler != nil {
		c.handler.OnClose(reason, err)
	}
}
