package conn

// Handler is the protocol-module-facing capability interface spec §6 calls
// the "handler contract": onOpen/onData/onWritable/onClose/onError. Every
// method is invoked synchronously from the Connection's owning
// reactor.SelectorLoop goroutine (spec §4.C's ordering guarantee).
//
// This replaces what the source models as an abstract base class with
// default method bodies (spec §9, "subclass-based handler hierarchy"):
// Go has no inheritance, so NoopHandler is embedded by implementations that
// only care about a subset of events, the idiomatic stand-in for "default
// implementations".
type Handler interface {
	// OnOpen fires once, after the transport (and TLS handshake, if any)
	// is ready for application data.
	OnOpen(c *Connection)
	// OnData delivers inbound plaintext. data is a zero-copy slice valid
	// only for the duration of the call; implementations that need to
	// retain it must copy.
	OnData(data []byte)
	// OnWritable fires when back-pressure eases: the outbound queue has
	// drained back under its watermark after Send reported blocked=true.
	OnWritable()
	// OnClose fires exactly once, after which no other method is called.
	OnClose(reason CloseReason, err error)
	// OnError reports a non-fatal error observed on the connection (e.g. a
	// TLS delegated task failure) that does not by itself close it.
	OnError(err error)
}

// NoopHandler implements Handler with empty bodies. Embed it to implement
// only the methods a given protocol module actually needs.
type NoopHandler struct{}

func (NoopHandler) OnOpen(*Connection)          {}
func (NoopHandler) OnData([]byte)               {}
func (NoopHandler) OnWritable()                 {}
func (NoopHandler) OnClose(CloseReason, error)  {}
func (NoopHandler) OnError(error)               {}
