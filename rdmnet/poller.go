package rdmnet

// PollAttachment binds a file descriptor to the Connection handle that
// owns it, so the poller's readiness loop can resolve an event back to a
// Connection without a second lookup into the Registry's value space.
// Modeled on the pack's kqueue-based reactor's PollAttachment-with-callback
// idiom, adapted from kqueue filters to epoll event masks.
type PollAttachment struct {
	FD     int
	Handle Handle
}

// Poller is the platform readiness multiplexer the Poll Dispatcher (spec
// §4.4) runs against. The only production implementation is the Linux
// epoll-backed poller in poller_linux.go; a non-Linux target is out of
// scope for this revision (SPEC_FULL.md §4.4).
type Poller interface {
	// Add registers fd for read/error readiness, plus write (connect)
	// readiness when writeInterest is true.
	Add(pa *PollAttachment, writeInterest bool) error
	// Modify narrows or widens fd's registered interest set without
	// dropping the registration, e.g. to stop polling for write/connect
	// readiness once a connection leaves TCPConnPending (spec §4.3,
	// original_source connection.c's rdmnet_core_modify_polled_socket).
	Modify(fd int, writeInterest bool) error
	// Remove deregisters fd. It is a no-op if fd was never added.
	Remove(fd int) error
	// Poll blocks until at least one event is ready or timeout elapses,
	// invoking handle at most once per ready fd. A zero timeout polls
	// without blocking.
	Poll(timeoutMillis int, handle func(pa *PollAttachment, ev PollEvent)) error
	// Close releases the underlying OS resource.
	Close() error
}
