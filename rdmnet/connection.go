package rdmnet

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is one of the seven labels of the Connection state machine.
type State int

const (
	StateNotStarted State = iota
	StateConnectPending
	StateBackoff
	StateTCPConnPending
	StateRDMnetConnPending
	StateHeartbeat
	StateMarkedForDestruction
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateConnectPending:
		return "ConnectPending"
	case StateBackoff:
		return "Backoff"
	case StateTCPConnPending:
		return "TCPConnPending"
	case StateRDMnetConnPending:
		return "RDMnetConnPending"
	case StateHeartbeat:
		return "Heartbeat"
	case StateMarkedForDestruction:
		return "MarkedForDestruction"
	default:
		return "Unknown"
	}
}

// PollEvent is the readiness event shape the Poll Dispatcher delivers.
type PollEvent int

const (
	EventReadable PollEvent = iota
	EventConnect
	EventError
)

// Connection is one handle's worth of connection-lifecycle state. All
// fields are guarded by mu; callers outside this package never touch a
// Connection directly except through Core's public API, which takes care
// of the module-lock-outer / per-connection-mutex-inner discipline.
type Connection struct {
	mu sync.Mutex

	handle    Handle
	localCID  CID
	cfg       *Config
	callbacks Callbacks

	remoteAddr     *net.TCPAddr
	fd             int
	externalSocket bool
	blocking       bool

	state State

	backoffInterval time.Duration
	backoffDeadline time.Time

	hbDeadline   time.Time
	sendDeadline time.Time

	recv FrameBuffer

	connData ClientConnectData

	rdmnetConnFailed bool

	// next is the intrusive destruction-sweep link (spec §4.5, §9); it
	// is only ever touched by Core.reap under the module write-lock.
	next *Connection
}

func newConnection(localCID CID, cfg *Config, callbacks Callbacks) *Connection {
	return &Connection{
		localCID:  localCID,
		cfg:       cfg,
		callbacks: callbacks,
		fd:        invalidFD,
		state:     StateNotStarted,
		blocking:  cfg.Blocking,
	}
}

// initForReuse re-initializes a Connection record drawn from connPool.
// It never touches mu: the record has just come out of the pool and no
// other goroutine holds a reference to it yet.
func (c *Connection) initForReuse(localCID CID, cfg *Config, callbacks Callbacks) {
	c.localCID = localCID
	c.cfg = cfg
	c.callbacks = callbacks
	c.fd = invalidFD
	c.state = StateNotStarted
	c.blocking = cfg.Blocking
}

// socketValid reports invariant 2: the socket is Valid exactly in
// {TCPConnPending, RDMnetConnPending, Heartbeat}.
func (c *Connection) socketValid() bool {
	switch c.state {
	case StateTCPConnPending, StateRDMnetConnPending, StateHeartbeat:
		return true
	default:
		return false
	}
}

// Connect moves a fresh or reset Connection from NotStarted to
// ConnectPending. The actual socket open happens on the next tick.
func (c *Connection) Connect(remoteAddr *net.TCPAddr, data ClientConnectData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNotStarted {
		return &Error{Kind: KindLifecycle, Code: CodeIsConn, Message: "connection already established or in progress"}
	}

	c.remoteAddr = remoteAddr
	c.connData = data
	c.state = StateConnectPending
	log.WithFields(log.Fields{"handle": c.handle, "remote": remoteAddr}).Debug("rdmnet: connect requested")
	return nil
}

// AttachExistingSocket jumps a fresh Connection directly to Heartbeat,
// for sockets a broker has already accepted and owns (invariant 3).
func (c *Connection) AttachExistingSocket(fd int, remoteAddr *net.TCPAddr, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNotStarted {
		return &Error{Kind: KindLifecycle, Code: CodeIsConn, Message: "connection already established or in progress"}
	}

	c.fd = fd
	c.externalSocket = true
	c.remoteAddr = remoteAddr
	c.armHeartbeatTimers(now)
	c.state = StateHeartbeat
	log.WithFields(log.Fields{"handle": c.handle, "remote": remoteAddr}).Debug("rdmnet: external socket attached")
	return nil
}

// SetBlocking records the Connection's blocking flag. It is rejected
// mid-connect to avoid racing the state machine's own non-blocking
// connect() usage. The flag does not change how Send behaves: sockets are
// always non-blocking, and a full send buffer returns ErrWouldBlock.
func (c *Connection) SetBlocking(blocking bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateTCPConnPending, StateRDMnetConnPending:
		return &Error{Kind: KindLifecycle, Code: CodeBusy, Message: "cannot change blocking mode mid-connect"}
	}
	c.blocking = blocking
	return nil
}

// Send writes application bytes on an established connection. The
// message-framing responsibility (wrapping bytes in a PDU) belongs to
// the caller via StartMessage/EndMessage for multi-part writes.
func (c *Connection) Send(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(data)
}

// sendLocked is the lock-held implementation shared by Send and
// MessageToken.Send. Callers must hold mu.
func (c *Connection) sendLocked(data []byte) (int, error) {
	if c.state != StateHeartbeat {
		return 0, &Error{Kind: KindLifecycle, Code: CodeNotConn, Message: "not connected"}
	}
	if len(data) == 0 {
		return 0, NewArgumentError(CodeInvalidArg, "zero-length send")
	}

	n, err := sendSocket(c.fd, data)
	if err != nil {
		if err == errWouldBlock {
			return 0, ErrWouldBlock
		}
		return 0, NewNetworkError(CodeSocketError, "send failed", err)
	}
	return n, nil
}

// StartMessage acquires the per-connection mutex and holds it across
// subsequent Send calls until EndMessage releases it, guaranteeing a
// multi-part PDU reaches the wire atomically with respect to any other
// goroutine's Send/tick/poll activity on the same Connection (spec §5).
func (c *Connection) StartMessage() *MessageToken {
	c.mu.Lock()
	return &MessageToken{conn: c}
}

// MessageToken represents a held per-connection mutex started by
// StartMessage. Callers must call End exactly once.
type MessageToken struct {
	conn *Connection
	done bool
}

// Send writes one part of a multi-part message while the token's mutex
// hold guarantees no other part-write from another goroutine can
// interleave on the wire.
func (t *MessageToken) Send(data []byte) (int, error) {
	return t.conn.sendLocked(data)
}

// End releases the per-connection mutex acquired by StartMessage.
func (t *MessageToken) End() {
	if t.done {
		return
	}
	t.done = true
	t.conn.mu.Unlock()
}

// Destroy marks the Connection MarkedForDestruction. It is non-blocking:
// it optionally emits a Disconnect PDU (best-effort) if currently in
// Heartbeat, then flips the state and returns; the next tick reaps it.
func (c *Connection) Destroy(reason *Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateMarkedForDestruction {
		return
	}
	if c.state == StateHeartbeat {
		r := Reason(0)
		if reason != nil {
			r = *reason
		}
		_, _ = sendSocket(c.fd, EncodeDisconnect(c.localCID, r))
	}
	log.WithFields(log.Fields{"handle": c.handle, "state": c.state}).Debug("rdmnet: destroy requested")
	c.state = StateMarkedForDestruction
}

// resetLocked returns the Connection to NotStarted, closing its socket
// (unless externally owned) and discarding buffered partial frames.
// Callers must hold mu.
func (c *Connection) resetLocked() {
	if c.fd != invalidFD && !c.externalSocket {
		_ = closeSocket(c.fd)
	}
	c.fd = invalidFD
	c.recv.Reset()
	c.state = StateNotStarted
}

func (c *Connection) armHeartbeatTimers(now time.Time) {
	c.hbDeadline = now.Add(c.cfg.HeartbeatTimeout)
	c.sendDeadline = now.Add(c.cfg.HeartbeatSendInterval)
}

// TickLocked advances timer-driven transitions. heartbeatBudget is
// shared across one Core.Tick() walk: it starts true and is consumed
// the first time any Connection reports a heartbeat timeout, enforcing
// the "at most one heartbeat-timeout callback per tick" rule (spec
// §4.5) without bounding any other callback class. Callers must hold mu.
func (c *Connection) TickLocked(now time.Time, heartbeatBudget *bool) *pendingCallback {
	switch c.state {
	case StateConnectPending:
		return c.tryConnectLocked(now, false)
	case StateBackoff:
		if !now.Before(c.backoffDeadline) {
			return c.tryConnectLocked(now, true)
		}
	case StateHeartbeat:
		if !now.Before(c.hbDeadline) {
			if !*heartbeatBudget {
				return nil
			}
			*heartbeatBudget = false
			ev := DisconnectedEvent{Reason: DisconnectNoHeartbeat}
			c.resetLocked()
			return c.buildDisconnected(ev)
		}
		if !now.Before(c.sendDeadline) {
			_, _ = sendSocket(c.fd, EncodeNull(c.localCID))
			c.sendDeadline = now.Add(c.cfg.HeartbeatSendInterval)
		}
	}
	return nil
}

// tryConnectLocked implements the shared ConnectPending/Backoff-expired
// branch of the transition table. afterBackoffWait distinguishes the two
// call sites: false means a fresh ConnectPending entry, which defers to
// a backoff wait when the previous attempt left a sticky failure or a
// running backoff interval; true means the backoff deadline for that
// wait has just elapsed, so the actual non-blocking TCP connect must be
// attempted regardless of rdmnetConnFailed/backoffInterval (otherwise a
// connection that failed once would sit in Backoff forever, recomputing
// a new wait every time the old one expired instead of ever retrying).
// The fast-connect path goes straight into the RDMnet handshake when
// connect() completes synchronously.
func (c *Connection) tryConnectLocked(now time.Time, afterBackoffWait bool) *pendingCallback {
	if !afterBackoffWait && (c.rdmnetConnFailed || c.backoffInterval != 0) {
		c.backoffInterval = updateBackoff(c.backoffInterval, c.cfg.BackoffMin, c.cfg.BackoffMax, c.cfg.BackoffCeiling)
		c.backoffDeadline = now.Add(c.backoffInterval)
		c.state = StateBackoff
		return nil
	}

	fd, fast, err := dialNonBlocking(c.remoteAddr)
	if err != nil {
		ev := ConnectFailedEvent{TCPLevel: true, SocketErr: err}
		c.resetLocked()
		return c.buildConnectFailed(ev)
	}
	c.fd = fd

	if fast {
		c.beginHandshakeLocked(now)
		return nil
	}
	c.state = StateTCPConnPending
	return nil
}

func (c *Connection) beginHandshakeLocked(now time.Time) {
	_, _ = sendSocket(c.fd, EncodeClientConnect(c.localCID, c.connData))
	c.armHeartbeatTimers(now)
	c.state = StateRDMnetConnPending
}

// HandlePollEventLocked dispatches a single readiness event from the
// Poll Dispatcher. Callers must hold mu and must not hold it any longer
// than necessary to build the returned pendingCallback: the dispatcher
// releases every lock before delivering it (spec §4.4).
func (c *Connection) HandlePollEventLocked(ev PollEvent, now time.Time) *pendingCallback {
	switch ev {
	case EventError:
		return c.handleSocketErrorLocked(socketError(c.fd), now)
	case EventConnect:
		if c.state != StateTCPConnPending {
			return nil
		}
		if err := socketError(c.fd); err != nil {
			return c.handleSocketErrorLocked(err, now)
		}
		c.beginHandshakeLocked(now)
		return nil
	}
	return nil
}

// RecvLocked reads up to len(buf) bytes from the socket. Callers must
// hold mu and only call this for EventReadable in {RDMnetConnPending,
// Heartbeat} (or, tolerantly, TCPConnPending per spec §4.4).
func (c *Connection) RecvLocked(buf []byte) (int, error) {
	return recvSocket(c.fd, buf)
}

// FeedLocked appends freshly-read bytes to the frame buffer.
func (c *Connection) FeedLocked(b []byte) {
	c.recv.Feed(b)
}

// DrainOneLocked pulls at most one PDU out of the buffered bytes.
func (c *Connection) DrainOneLocked() (PDU, DrainResult, error) {
	return c.recv.Drain()
}

func (c *Connection) handleSocketErrorLocked(sockErr error, now time.Time) *pendingCallback {
	switch c.state {
	case StateTCPConnPending, StateRDMnetConnPending:
		ev := ConnectFailedEvent{TCPLevel: true, SocketErr: sockErr}
		c.resetLocked()
		return c.buildConnectFailed(ev)
	case StateHeartbeat:
		ev := DisconnectedEvent{Reason: DisconnectAbruptClose, SocketErr: sockErr}
		c.resetLocked()
		return c.buildDisconnected(ev)
	default:
		return nil
	}
}

// ProcessPDULocked applies one framed PDU's worth of Broker sub-protocol
// semantics. Callers must hold mu; it is called once per PDU drained,
// with locks released and any resulting callback delivered before the
// next PDU is drained (invariant 4).
func (c *Connection) ProcessPDULocked(pdu PDU, now time.Time) *pendingCallback {
	switch c.state {
	case StateRDMnetConnPending:
		return c.processHandshakePDULocked(pdu, now)
	case StateHeartbeat:
		return c.processHeartbeatPDULocked(pdu, now)
	default:
		return nil
	}
}

func (c *Connection) processHandshakePDULocked(pdu PDU, now time.Time) *pendingCallback {
	switch pdu.BrokerVector {
	case VectorBrokerConnectReply:
		reply, err := decodeConnectReply(pdu.Data)
		if err != nil {
			return c.handleSocketErrorLocked(err, now)
		}
		if reply.Status == ConnectOK {
			c.backoffInterval = 0
			c.rdmnetConnFailed = false
			c.armHeartbeatTimers(now)
			c.state = StateHeartbeat
			return c.buildConnected(ConnectedEvent{
				ConnectedAddr: c.remoteAddr.String(),
				BrokerUID:     reply.BrokerUID,
				ClientUID:     reply.ClientUID,
			})
		}
		c.rdmnetConnFailed = true
		reason := Reason(reply.Status)
		c.resetLocked()
		return c.buildConnectFailed(ConnectFailedEvent{Rejected: true, RDMnetReason: reason})

	case VectorBrokerRedirectV4, VectorBrokerRedirectV6:
		addr, port, err := decodeClientRedirect(pdu.Data, pdu.BrokerVector == VectorBrokerRedirectV6)
		if err != nil {
			return c.handleSocketErrorLocked(err, now)
		}
		if c.fd != invalidFD && !c.externalSocket {
			_ = closeSocket(c.fd)
		}
		c.fd = invalidFD
		c.recv.Reset()
		c.remoteAddr = &net.TCPAddr{IP: net.IP(addr), Port: int(port)}
		c.state = StateConnectPending
		return nil

	default:
		return nil
	}
}

func (c *Connection) processHeartbeatPDULocked(pdu PDU, now time.Time) *pendingCallback {
	c.hbDeadline = now.Add(c.cfg.HeartbeatTimeout)

	switch pdu.BrokerVector {
	case VectorBrokerDisconnect:
		reason, err := decodeDisconnect(pdu.Data)
		if err != nil {
			return c.handleSocketErrorLocked(err, now)
		}
		c.resetLocked()
		return c.buildDisconnected(DisconnectedEvent{Reason: DisconnectGracefulRemote, RDMnetReason: reason})

	case VectorBrokerNull:
		return nil

	default:
		return c.buildMessageReceived(pdu)
	}
}

func (c *Connection) buildConnected(ev ConnectedEvent) *pendingCallback {
	if c.callbacks == nil {
		return nil
	}
	cb := c.callbacks
	h := c.handle
	return &pendingCallback{handle: h, callbacks: cb, invoke: func() { cb.OnConnected(h, ev) }}
}

func (c *Connection) buildConnectFailed(ev ConnectFailedEvent) *pendingCallback {
	if c.callbacks == nil {
		return nil
	}
	cb := c.callbacks
	h := c.handle
	return &pendingCallback{handle: h, callbacks: cb, invoke: func() { cb.OnConnectFailed(h, ev) }}
}

func (c *Connection) buildDisconnected(ev DisconnectedEvent) *pendingCallback {
	if c.callbacks == nil {
		return nil
	}
	cb := c.callbacks
	h := c.handle
	return &pendingCallback{handle: h, callbacks: cb, invoke: func() { cb.OnDisconnected(h, ev) }}
}

func (c *Connection) buildMessageReceived(pdu PDU) *pendingCallback {
	if c.callbacks == nil {
		return nil
	}
	cb := c.callbacks
	h := c.handle
	return &pendingCallback{handle: h, callbacks: cb, invoke: func() { cb.OnMessageReceived(h, pdu) }}
}

// StateLocked returns the current state. Callers must hold mu; exported
// for tests that need to assert on state without a full Core.
func (c *Connection) StateLocked() State {
	return c.state
}

// FDState takes mu itself and returns a momentary snapshot of the socket
// and state, for Core's poll-registration bookkeeping, which runs outside
// of whatever lock hold produced the transition being synced.
func (c *Connection) FDState() (int, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd, c.state
}

// closeForReap releases the socket of a MarkedForDestruction Connection.
// Called by Core.reap once the Connection has already been unlinked from
// the Registry, so no other goroutine can still be operating on it.
func (c *Connection) closeForReap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd != invalidFD && !c.externalSocket {
		_ = closeSocket(c.fd)
	}
	c.fd = invalidFD
}
