package rdmnet

// sendSafe is a marker method implemented only by types this package
// considers safe to invoke without holding any core lock. It bounds the
// Callbacks interface per spec §9's "capability/interface abstraction
// ... bounded by a send-safety marker" design note: an implementer must
// explicitly opt in by embedding SafeCallbacks, documenting that its
// methods may be called concurrently and must not call back into the
// Core synchronously while assuming a lock is held (none ever is).
type sendSafe interface {
	sendSafeMarker()
}

// SafeCallbacks is embedded by Callbacks implementations to satisfy the
// send-safety marker.
type SafeCallbacks struct{}

func (SafeCallbacks) sendSafeMarker() {}

// ConnectFailedEvent describes why a connect attempt did not reach
// Heartbeat.
type ConnectFailedEvent struct {
	TCPLevel     bool
	SocketErr    error
	Rejected     bool
	RDMnetReason Reason
}

// DisconnectReason enumerates why an established connection ended.
type DisconnectReason int

const (
	DisconnectGracefulRemote DisconnectReason = iota
	DisconnectNoHeartbeat
	DisconnectAbruptClose
	DisconnectLocal
)

// DisconnectedEvent describes why a Heartbeat connection ended.
type DisconnectedEvent struct {
	Reason       DisconnectReason
	SocketErr    error
	RDMnetReason Reason
}

// ConnectedEvent describes a successful handshake.
type ConnectedEvent struct {
	ConnectedAddr string
	BrokerUID     uint64
	ClientUID     uint64
}

// Callbacks is the four-method capability a Connection invokes to notify
// its owner. Implementations must embed SafeCallbacks and must not
// assume any core lock is held during a call — none ever is (spec §4.5,
// §5).
type Callbacks interface {
	sendSafe

	OnConnected(h Handle, ev ConnectedEvent)
	OnConnectFailed(h Handle, ev ConnectFailedEvent)
	OnDisconnected(h Handle, ev DisconnectedEvent)
	OnMessageReceived(h Handle, pdu PDU)
}

// pendingCallback is the at-most-one-per-Connection queued callback
// invocation collected during a tick or poll pass and delivered only
// after every lock has been released (invariant 4).
type pendingCallback struct {
	handle    Handle
	callbacks Callbacks
	invoke    func()
}

func (p *pendingCallback) deliver() {
	if p == nil || p.invoke == nil {
		return
	}
	p.invoke()
}
