package rdmnet

import (
	"math"

	"github.com/petar/GoLLRB/llrb"
)

// Handle is an opaque, non-negative integer identifying a Connection
// within a Core for the lifetime of the process.
type Handle int32

// InvalidHandle is never issued by Registry.Insert.
const InvalidHandle Handle = -1

// registryItem adapts a *Connection to llrb.Item, ordering entries by
// Handle so iteration (for_each_ordered, the destruction sweep) visits
// handles in deterministic ascending order.
type registryItem struct {
	handle Handle
	conn   *Connection
}

func (r *registryItem) Less(than llrb.Item) bool {
	return r.handle < than.(*registryItem).handle
}

// Registry is the Handle Registry (spec §4.1): a monotonically-issued,
// wraparound handle counter over a red-black-tree-ordered handle→Connection
// map. All mutating operations require the caller to hold the Core's
// write-lock; reads require at least the read-lock. The Registry itself
// performs no locking — Core owns the RWMutex per the module-lock-outer
// discipline (spec §5).
type Registry struct {
	tree   *llrb.LLRB
	lookup map[Handle]*registryItem
	next   Handle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tree:   llrb.New(),
		lookup: make(map[Handle]*registryItem),
		next:   0,
	}
}

// Insert allocates the next free handle for conn and returns it. Handle
// allocation wraps past math.MaxInt32 by linearly probing for the next
// unused, non-invalid value; this is O(n) in the worst case (registry
// full of low handles after wraparound) but amortised O(1).
func (r *Registry) Insert(conn *Connection) Handle {
	h := r.next
	for {
		if h != InvalidHandle {
			if _, taken := r.lookup[h]; !taken {
				break
			}
		}
		h++
		if h == math.MaxInt32 {
			h = 0
		}
	}
	r.next = h + 1
	if r.next == math.MaxInt32 {
		r.next = 0
	}

	item := &registryItem{handle: h, conn: conn}
	r.lookup[h] = item
	r.tree.ReplaceOrInsert(item)
	return h
}

// Find returns the Connection for handle. It returns (nil, false) both
// when the handle was never issued (or has already been reaped) and when
// the handle is present but MarkedForDestruction — matching the source
// behaviour's conflation of NotFound with found-but-marked (see
// DESIGN.md Open Question 1).
func (r *Registry) Find(h Handle) (*Connection, bool) {
	item, ok := r.lookup[h]
	if !ok {
		return nil, false
	}
	item.conn.mu.Lock()
	marked := item.conn.state == StateMarkedForDestruction
	item.conn.mu.Unlock()
	if marked {
		return nil, false
	}
	return item.conn, true
}

// Remove deletes handle from the registry unconditionally. Used by the
// destruction sweep after a Connection has been fully freed.
func (r *Registry) Remove(h Handle) {
	item, ok := r.lookup[h]
	if !ok {
		return
	}
	r.tree.Delete(item)
	delete(r.lookup, h)
}

// Len returns the number of handles currently registered (including ones
// MarkedForDestruction but not yet reaped).
func (r *Registry) Len() int {
	return r.tree.Len()
}

// ForEachOrdered calls fn for every registered Connection in ascending
// handle order, stopping early if fn returns false.
func (r *Registry) ForEachOrdered(fn func(h Handle, conn *Connection) bool) {
	r.tree.AscendGreaterOrEqual(&registryItem{handle: math.MinInt32}, func(i llrb.Item) bool {
		item := i.(*registryItem)
		return fn(item.handle, item.conn)
	})
}
