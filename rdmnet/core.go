package rdmnet

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Core is the top-level connection engine: it owns the Handle Registry,
// the Poll Dispatcher, and the background tick loop, and is the only type
// application code constructs directly. All locking outside a Connection
// funnels through Core's module-wide RWMutex (write-locked for
// create/destroy-sweep, read-locked for lookups and the timer walk),
// matching the outer-module/inner-connection discipline of spec §5.
type Core struct {
	cfg      *Config
	localCID CID

	mu       sync.RWMutex
	registry *Registry

	poller Poller

	connPool *connPool

	// pollmu guards polled, Core's bookkeeping of which fd is currently
	// registered with the poller for each handle, and with what interest
	// set. It is intentionally a separate lock from mu so poll-registration
	// churn never contends with registry lookups.
	pollmu sync.Mutex
	polled map[Handle]pollState

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// pollState is Core's record of what interest set, if any, is currently
// registered with the poller for a handle's fd.
type pollState struct {
	fd            int
	writeInterest bool
}

// NewCore validates cfg (or substitutes DefaultConfig if nil), opens the
// platform poller, and returns a ready-to-use Core with an empty
// Registry. Tick alone (called directly, or via Run when
// Config.EnableTickThread is set) is a complete standalone driver: it
// also makes a non-blocking poll pass, so Run is only needed to own the
// blocking poll loop and/or the periodic tick goroutine for a caller that
// doesn't want to drive either itself.
func NewCore(cfg *Config) (*Core, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewArgumentError(CodeInvalidArg, err.Error())
	}

	poller, err := newEpollPoller()
	if err != nil {
		return nil, NewResourceError(CodeSys, "failed to open poller", err)
	}

	core := &Core{
		cfg:      cfg,
		localCID: NewCID(),
		registry: NewRegistry(),
		poller:   poller,
		polled:   make(map[Handle]pollState),
		stop:     make(chan struct{}),
	}
	if cfg.AllocStrategy == AllocPooled {
		core.connPool = newConnPool()
	}
	return core, nil
}

// LocalCID returns the CID this Core presents to brokers on every
// handshake it initiates.
func (core *Core) LocalCID() CID {
	return core.localCID
}

// Create allocates a new Connection in NotStarted state and returns its
// Handle. callbacks may be nil, in which case events are silently
// dropped. When Config.AllocStrategy is AllocPooled, Create fails with a
// KindResource/NO_MEM error once MaxConnections handles are live.
func (core *Core) Create(callbacks Callbacks) (Handle, error) {
	core.mu.Lock()
	defer core.mu.Unlock()

	if core.cfg.AllocStrategy == AllocPooled && core.registry.Len() >= core.cfg.MaxConnections {
		return InvalidHandle, NewResourceError(CodeNoMem, "connection pool exhausted", nil)
	}

	var conn *Connection
	if core.connPool != nil {
		conn = core.connPool.get()
		conn.initForReuse(core.localCID, core.cfg, callbacks)
	} else {
		conn = newConnection(core.localCID, core.cfg, callbacks)
	}
	h := core.registry.Insert(conn)
	conn.handle = h

	core.pollmu.Lock()
	core.polled[h] = pollState{fd: invalidFD}
	core.pollmu.Unlock()

	log.WithFields(log.Fields{"handle": h}).Debug("rdmnet: connection created")
	return h, nil
}

func (core *Core) find(h Handle) (*Connection, error) {
	core.mu.RLock()
	conn, ok := core.registry.Find(h)
	core.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return conn, nil
}

// Connect requests that handle begin connecting to remoteAddr. The
// socket itself is not opened until the next Tick.
func (core *Core) Connect(h Handle, remoteAddr *net.TCPAddr, data ClientConnectData) error {
	conn, err := core.find(h)
	if err != nil {
		return err
	}
	return conn.Connect(remoteAddr, data)
}

// AttachExistingSocket adopts an already-connected, already-handshaken
// fd (spec invariant 3) and immediately registers it with the poller.
func (core *Core) AttachExistingSocket(h Handle, fd int, remoteAddr *net.TCPAddr) error {
	if !core.cfg.EnableExternalSockets {
		return NewLifecycleError(CodeBusy, "external sockets are disabled by configuration")
	}
	conn, err := core.find(h)
	if err != nil {
		return err
	}
	if err := conn.AttachExistingSocket(fd, remoteAddr, time.Now()); err != nil {
		return err
	}
	core.syncPoll(h, conn)
	return nil
}

// SetBlocking sets handle's blocking flag. Send on handle never blocks
// either way; see Connection.SetBlocking.
func (core *Core) SetBlocking(h Handle, blocking bool) error {
	conn, err := core.find(h)
	if err != nil {
		return err
	}
	return conn.SetBlocking(blocking)
}

// Send writes data on handle's established connection.
func (core *Core) Send(h Handle, data []byte) (int, error) {
	conn, err := core.find(h)
	if err != nil {
		return 0, err
	}
	return conn.Send(data)
}

// StartMessage begins a multi-part atomic write on handle, returning a
// token whose End must be called exactly once.
func (core *Core) StartMessage(h Handle) (*MessageToken, error) {
	conn, err := core.find(h)
	if err != nil {
		return nil, err
	}
	return conn.StartMessage(), nil
}

// Destroy marks handle for destruction; it is reaped on the next Tick.
func (core *Core) Destroy(h Handle, reason *Reason) error {
	conn, err := core.find(h)
	if err != nil {
		return err
	}
	conn.Destroy(reason)
	return nil
}

// syncPoll reconciles the poller's registration for handle against the
// Connection's current fd/state, adding, moving, modifying, or removing
// the registration as needed. It is the only place outside
// poller_linux.go that calls into the Poller, so every state transition
// that opens, replaces, or closes a socket must funnel through it.
//
// Write (connect) readiness is requested only in StateTCPConnPending: a
// level-triggered EPOLLOUT otherwise stays asserted for the life of an
// idle socket and starves EventReadable dispatch once the handshake has
// begun (original_source connection.c narrows the same way via
// rdmnet_core_modify_polled_socket).
func (core *Core) syncPoll(h Handle, conn *Connection) {
	fd, state := conn.FDState()
	wantPoll := fd != invalidFD &&
		(state == StateTCPConnPending || state == StateRDMnetConnPending || state == StateHeartbeat)
	wantWrite := state == StateTCPConnPending

	core.pollmu.Lock()
	defer core.pollmu.Unlock()

	cur, tracked := core.polled[h]
	if !wantPoll {
		if tracked && cur.fd != invalidFD {
			_ = core.poller.Remove(cur.fd)
			core.polled[h] = pollState{fd: invalidFD}
		}
		return
	}
	if tracked && cur.fd == fd {
		if cur.writeInterest != wantWrite {
			if err := core.poller.Modify(fd, wantWrite); err != nil {
				log.WithFields(log.Fields{"handle": h, "fd": fd}).WithError(err).Error("rdmnet: poll interest update failed")
				return
			}
			core.polled[h] = pollState{fd: fd, writeInterest: wantWrite}
		}
		return
	}
	if tracked && cur.fd != invalidFD {
		_ = core.poller.Remove(cur.fd)
	}
	if err := core.poller.Add(&PollAttachment{FD: fd, Handle: h}, wantWrite); err != nil {
		log.WithFields(log.Fields{"handle": h, "fd": fd}).WithError(err).Error("rdmnet: poll registration failed")
		core.polled[h] = pollState{fd: invalidFD}
		return
	}
	core.polled[h] = pollState{fd: fd, writeInterest: wantWrite}
}

// Tick drives the Poll Dispatcher, the Connection State Machine, and the
// Tick & Callback Engine (spec §4.4, §4.5) one full step: a non-blocking
// poll pass (so a caller driving only Tick, without Run's background poll
// loop, still has its sockets serviced), a write-locked destruction
// sweep, a read-locked timer-advance walk bounded by a single shared
// heartbeat-timeout budget, then lock-free callback delivery. Call this
// directly on whatever schedule suits the host; Run's optional tick
// goroutine (Config.EnableTickThread) is only a convenience wrapper
// around calling it on a ticker, and Run's poll loop is only needed for a
// caller that wants blocking poll waits instead of Tick's non-blocking one.
func (core *Core) Tick() {
	if err := core.poller.Poll(0, core.handlePollEvent); err != nil {
		log.WithError(err).Error("rdmnet: tick poll pass failed")
	}

	core.reap()

	now := time.Now()
	heartbeatBudget := true
	var callbacks []*pendingCallback
	var touched []Handle

	core.mu.RLock()
	core.registry.ForEachOrdered(func(h Handle, conn *Connection) bool {
		conn.mu.Lock()
		cb := conn.TickLocked(now, &heartbeatBudget)
		conn.mu.Unlock()
		if cb != nil {
			callbacks = append(callbacks, cb)
		}
		touched = append(touched, h)
		return true
	})
	core.mu.RUnlock()

	for _, h := range touched {
		if conn, ok := core.registryLookupQuiet(h); ok {
			core.syncPoll(h, conn)
		}
	}

	for _, cb := range callbacks {
		cb.deliver()
	}
}

// registryLookupQuiet looks a handle up without the NotFound/
// MarkedForDestruction conflation Registry.Find applies, since Tick's
// poll-sync pass must still see a Connection it just reset into
// NotStarted or just marked for destruction.
func (core *Core) registryLookupQuiet(h Handle) (*Connection, bool) {
	core.mu.RLock()
	defer core.mu.RUnlock()
	item, ok := core.registry.lookup[h]
	if !ok {
		return nil, false
	}
	return item.conn, true
}

// reap performs the write-locked destruction sweep: every Connection
// currently MarkedForDestruction is unlinked from the Registry, its
// poll registration and socket released, and its record freed. conn.next
// threads the sweep's intrusive list (spec §4.5, §9) so no destroy-list
// allocation is needed beyond the walk itself.
func (core *Core) reap() {
	var head *Connection

	core.mu.Lock()
	core.registry.ForEachOrdered(func(h Handle, conn *Connection) bool {
		conn.mu.Lock()
		marked := conn.state == StateMarkedForDestruction
		conn.mu.Unlock()
		if marked {
			conn.next = head
			head = conn
		}
		return true
	})
	for conn := head; conn != nil; conn = conn.next {
		core.registry.Remove(conn.handle)
	}
	core.mu.Unlock()

	for conn := head; conn != nil; {
		next := conn.next
		core.pollmu.Lock()
		if ps, ok := core.polled[conn.handle]; ok {
			if ps.fd != invalidFD {
				_ = core.poller.Remove(ps.fd)
			}
			delete(core.polled, conn.handle)
		}
		core.pollmu.Unlock()
		conn.closeForReap()
		log.WithFields(log.Fields{"handle": conn.handle}).Debug("rdmnet: connection reaped")
		conn.next = nil
		if core.connPool != nil {
			core.connPool.put(conn)
		}
		conn = next
	}
}

// handlePollEvent is the Poll Dispatcher callback (spec §4.4): it resolves
// the event's fd back to a Connection via its Handle, runs the matching
// locked handler, and only then releases every lock and delivers the
// resulting callback.
func (core *Core) handlePollEvent(pa *PollAttachment, ev PollEvent) {
	core.mu.RLock()
	conn, ok := core.registry.Find(pa.Handle)
	core.mu.RUnlock()
	if !ok {
		return
	}

	now := time.Now()

	if ev == EventReadable {
		core.handleReadable(pa.Handle, conn, now)
		return
	}

	conn.mu.Lock()
	cb := conn.HandlePollEventLocked(ev, now)
	conn.mu.Unlock()
	cb.deliver()
	core.syncPoll(pa.Handle, conn)
}

// handleReadable reads once, feeds the bytes to the frame buffer, then
// drains as many complete PDUs as are buffered, releasing the connection
// mutex and delivering each PDU's callback before draining the next
// (invariant 4: at most one queued callback per Connection at a time).
func (core *Core) handleReadable(h Handle, conn *Connection, now time.Time) {
	buf := make([]byte, core.cfg.RecvBufferSize)

	conn.mu.Lock()
	n, err := conn.RecvLocked(buf)
	if err != nil {
		if err == errWouldBlock {
			conn.mu.Unlock()
			return
		}
		cb := conn.handleSocketErrorLocked(err, now)
		conn.mu.Unlock()
		cb.deliver()
		core.syncPoll(h, conn)
		return
	}
	if n == 0 {
		cb := conn.handleSocketErrorLocked(io.EOF, now)
		conn.mu.Unlock()
		cb.deliver()
		core.syncPoll(h, conn)
		return
	}
	conn.FeedLocked(buf[:n])
	conn.mu.Unlock()

	for {
		conn.mu.Lock()
		pdu, result, derr := conn.DrainOneLocked()
		if derr != nil {
			cb := conn.handleSocketErrorLocked(derr, now)
			conn.mu.Unlock()
			cb.deliver()
			core.syncPoll(h, conn)
			return
		}
		if result == NeedMore {
			conn.mu.Unlock()
			break
		}
		cb := conn.ProcessPDULocked(pdu, now)
		conn.mu.Unlock()
		cb.deliver()
	}
	core.syncPoll(h, conn)
}

// Run starts the background tick ticker (if Config.EnableTickThread) and
// the poll loop, blocking until ctx is cancelled or Close is called.
// Modeled on the pack's broker Run loop: one poll wait per iteration,
// structured logging around each phase, clean shutdown on signal.
func (core *Core) Run(ctx context.Context) error {
	log.Debug("rdmnet: core starting")

	core.wg.Add(1)
	go func() {
		defer core.wg.Done()
		core.pollLoop()
	}()

	if core.cfg.EnableTickThread {
		core.wg.Add(1)
		go func() {
			defer core.wg.Done()
			core.tickLoop()
		}()
	}

	select {
	case <-ctx.Done():
	case <-core.stop:
	}
	core.Close()
	core.wg.Wait()
	log.Debug("rdmnet: core stopped")
	return nil
}

func (core *Core) tickLoop() {
	ticker := time.NewTicker(core.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-core.stop:
			return
		case <-ticker.C:
			core.Tick()
		}
	}
}

func (core *Core) pollLoop() {
	for {
		select {
		case <-core.stop:
			return
		default:
		}
		if err := core.poller.Poll(200, core.handlePollEvent); err != nil {
			log.WithError(err).Error("rdmnet: poll wait failed")
		}
	}
}

// Close stops any Run loop and releases the poller. It is safe to call
// more than once and safe to call without Run ever having started.
func (core *Core) Close() error {
	core.stopOnce.Do(func() { close(core.stop) })
	return core.poller.Close()
}
