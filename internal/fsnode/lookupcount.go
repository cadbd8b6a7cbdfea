package fsnode

// lookupCount tracks how many outstanding handles an adapter layer holds
// on a node. When the count drops to zero, destroy runs and the node's
// underlying blob is freed. External synchronization (the node's own
// mutex) is required.
type lookupCount struct {
	count   uint64
	destroy func() error
}

func (lc *lookupCount) inc() {
	lc.count++
}

// dec decrements the count by n and runs destroy once it hits zero.
// Errors from destroy are returned rather than swallowed, since a failed
// destroy here means a leaked blob, not just a leaked log line.
func (lc *lookupCount) dec(n uint64) (destroyed bool, err error) {
	if n > lc.count {
		panic("fsnode: lookup count decremented below zero")
	}
	lc.count -= n
	if lc.count == 0 && lc.destroy != nil {
		err = lc.destroy()
		destroyed = true
	}
	return
}
