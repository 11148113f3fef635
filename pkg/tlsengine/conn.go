package tlsengine

import (
	"net"
	"time"
)

// pipeConn adapts a pair of byteQueues to the net.Conn interface expected by
// crypto/tls.Conn. tls.Conn never sees a real socket: everything it reads is
// fed by Engine.Unwrap, everything it writes is drained by Engine.Wrap.
type pipeConn struct {
	in  *byteQueue // ciphertext arriving from the network (fed by Unwrap)
	out *byteQueue // ciphertext produced by tls.Conn (drained by Wrap)
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: newByteQueue(), out: newByteQueue()}
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *pipeConn) Close() error {
	c.in.Close()
	c.out.Close()
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (c *pipeConn) RemoteAddr() net.Addr               { return pipeAddr{} }
func (c *pipeConn) SetDeadline(time.Time) error         { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error     { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error    { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "gumdrop-tls-pipe" }
func (pipeAddr) String() string  { return "gumdrop-tls-pipe" }
