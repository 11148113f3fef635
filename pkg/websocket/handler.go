package websocket

// Handler is the application-facing contract for a WebSocket session,
// analogous to pkg/conn.Handler but speaking messages instead of bytes
// (spec §4.I operates one layer above pkg/conn's raw byte pipeline).
type Handler interface {
	// OnOpen fires once the Upgrade handshake has completed and frames may
	// be sent.
	OnOpen(c *Connection)
	// OnMessage delivers one reassembled message: opcode is OpcodeText or
	// OpcodeBinary. Text payloads are already validated as UTF-8.
	OnMessage(opcode Opcode, payload []byte)
	// OnPong delivers an unsolicited pong (spec §4.I: "legal and delivered
	// as an event"); pongs answering an application Ping are not
	// separately surfaced here — correlate by payload if needed.
	OnPong(payload []byte)
	// OnClose fires exactly once. code is 1005 if the peer's CLOSE frame
	// carried no code (spec §4.I), or a local code if the Connection
	// closed abortively (transport error, protocol violation).
	OnClose(code uint16, reason string)
}

// NoopHandler implements Handler with empty bodies.
type NoopHandler struct{}

func (NoopHandler) OnOpen(*Connection)       {}
func (NoopHandler) OnMessage(Opcode, []byte) {}
func (NoopHandler) OnPong([]byte)            {}
func (NoopHandler) OnClose(uint16, string)   {}
