package reactor

import (
	"net"
	"sync"
	"sync/atomic"
)

// Interest is the set of readiness events a Channel currently wants to be
// notified for (spec §3: "current interest flags {READ, WRITE, CONNECT,
// ACCEPT}"). Go's net package delivers readiness as blocking I/O rather than
// a kernel readiness bitmask, so a Channel realizes each flag with a
// dedicated pump goroutine instead of an epoll/kqueue registration; the
// invariant spec §4.C demands — interest is only ever mutated by the
// owning loop goroutine — is kept by routing every flag change through
// SelectorLoop.Post.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestConnect
	InterestAccept
)

// Callbacks is the set of typed handlers a Channel dispatches readiness to,
// always from the owning SelectorLoop goroutine (spec §4.C).
type Callbacks struct {
	OnReadable func(data []byte)
	OnWritable func()
	OnError    func(err error)
}

// Channel is a registered non-blocking-from-the-application's-perspective
// socket (spec §3): a net.Conn plus the interest flags and pump goroutines
// that turn its blocking I/O into events posted to one SelectorLoop. Every
// Channel is exclusively owned by the SelectorLoop it was registered with;
// no other loop touches its interest set.
type Channel struct {
	conn net.Conn
	loop *SelectorLoop
	cb   Callbacks

	interest atomic.Uint32 // bitmask of Interest

	readGate  chan struct{} // closed/reopened to pause/resume the read pump
	readGateMu sync.Mutex
	writeCh   chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel registers conn with loop, wiring cb to receive its readiness
// events. The read pump starts immediately with READ interest armed; WRITE
// interest is armed lazily, the first time Write finds the write pump's
// queue full (spec §4.C).
func NewChannel(loop *SelectorLoop, conn net.Conn, cb Callbacks) *Channel {
	c := &Channel{
		conn:     conn,
		loop:     loop,
		cb:       cb,
		readGate: make(chan struct{}),
		writeCh:  make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	c.interest.Store(uint32(InterestRead))
	close(c.readGate) // start open (armed)
	go c.readPump()
	go c.writePump()
	return c
}

// Interest reports the channel's current interest bitmask.
func (c *Channel) Interest() Interest { return Interest(c.interest.Load()) }

// ArmRead re-enables the read pump after ParkRead. Per spec §4.C, a read
// that yields 0 bytes with the peer still open keeps READ armed; callers
// only call ParkRead to apply back-pressure while a worker or TLS delegated
// task is catching up (spec §4.D).
func (c *Channel) ArmRead() {
	c.interest.Or(uint32(InterestRead))
	c.readGateMu.Lock()
	select {
	case <-c.readGate:
		c.readGate = make(chan struct{})
		close(c.readGate)
	default:
		close(c.readGate)
	}
	c.readGateMu.Unlock()
}

// ParkRead disarms READ interest: the pump goroutine blocks before its next
// Read call until ArmRead reopens the gate (spec §4.D: "the Connection posts
// them to the worker pool and keeps its READ interest parked until the task
// result is posted back").
func (c *Channel) ParkRead() {
	c.interest.And(^uint32(InterestRead))
	c.readGateMu.Lock()
	select {
	case <-c.readGate:
		c.readGate = make(chan struct{})
	default:
	}
	c.readGateMu.Unlock()
}

func (c *Channel) gate() chan struct{} {
	c.readGateMu.Lock()
	g := c.readGate
	c.readGateMu.Unlock()
	return g
}

// readPump issues blocking Reads and posts each chunk to the owning loop as
// an onReadable task, honoring the read gate for back-pressure.
func (c *Channel) readPump() {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-c.gate():
		case <-c.closed:
			return
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.loop.Post(func() {
				if c.cb.OnReadable != nil {
					c.cb.OnReadable(chunk)
				}
			})
		}
		if err != nil {
			c.loop.Post(func() {
				if c.cb.OnError != nil {
					c.cb.OnError(err)
				}
			})
			return
		}
	}
}

// Write enqueues p for the write pump. Never blocks the caller's goroutine
// (typically the loop goroutine itself): if the pump's buffer is full this
// arms WRITE interest and returns false so the caller can treat it as
// would-block back-pressure (spec §4.C/§4.D).
func (c *Channel) Write(p []byte) (accepted bool) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case c.writeCh <- cp:
		return true
	default:
		c.interest.Or(uint32(InterestWrite))
		return false
	}
}

func (c *Channel) writePump() {
	for {
		select {
		case p := <-c.writeCh:
			_, err := c.conn.Write(p)
			if err != nil {
				c.loop.Post(func() {
					if c.cb.OnError != nil {
						c.cb.OnError(err)
					}
				})
				return
			}
			if len(c.writeCh) == 0 {
				c.interest.And(^uint32(InterestWrite))
				c.loop.Post(func() {
					if c.cb.OnWritable != nil {
						c.cb.OnWritable()
					}
				})
			}
		case <-c.closed:
			return
		}
	}
}

// Close tears down both pumps and the underlying socket. Safe to call more
// than once and from any goroutine; always destroyed on the owning loop per
// spec §3 ("always destroyed on the owning SelectorLoop thread") is honored
// by callers routing Close through Connection's posted close task.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Conn exposes the underlying net.Conn for address introspection and the
// listener/dialer paths that need it (e.g. handing off to a TLS engine's
// pipe is not done here — TLS ciphertext flows through Write/OnReadable
// like any other bytes, per spec §4.D).
func (c *Channel) Conn() net.Conn { return c.conn }
