package rdmnet

import "sync"

// connPool recycles *Connection records when Config.AllocStrategy is
// AllocPooled, so a long-running Core with a bounded, churning handle
// count doesn't hand the allocator a fresh Connection on every
// create/destroy cycle. Mirrors the pack's preference for a single
// construction-time allocation strategy over scattered sync.Pool use.
type connPool struct {
	pool sync.Pool
}

func newConnPool() *connPool {
	return &connPool{pool: sync.Pool{New: func() interface{} { return new(Connection) }}}
}

func (p *connPool) get() *Connection {
	return p.pool.Get().(*Connection)
}

// put clears c to its zero value before returning it to the pool so no
// stale callbacks, fd, or buffered bytes survive into the next reuse.
func (p *connPool) put(c *Connection) {
	*c = Connection{}
	p.pool.Put(c)
}
