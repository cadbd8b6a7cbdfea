package fsnode

import "time"

// AtimePolicy selects when a read updates a node's access time (spec.md
// §4.H): "noatime", "strictatime", "relatime", "nodiratime".
type AtimePolicy int

const (
	// AtimeStrict updates atime on every read.
	AtimeStrict AtimePolicy = iota
	// AtimeNone never updates atime.
	AtimeNone
	// AtimeRelative updates atime only when it is older than mtime/ctime
	// or more than a day stale (the traditional "relatime" heuristic).
	AtimeRelative
	// AtimeNoDir behaves like AtimeStrict for files but never updates a
	// directory's atime.
	AtimeNoDir
)

// relatimeStaleAfter is how far behind the current time atime may fall
// under AtimeRelative before a read updates it (an atime older than mtime
// or ctime is updated regardless).
const relatimeStaleAfter = 24 * time.Hour

// Context carries the policy and clock path lookup and read operations
// need to decide whether to bump a node's atime.
type Context struct {
	Policy AtimePolicy
	Now    func() time.Time
}

func (c Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// ShouldUpdateAtime decides whether a read of a node with the given
// current attributes should bump atime, given isDir.
func (c Context) ShouldUpdateAtime(isDir bool, attrs Attributes) bool {
	switch c.Policy {
	case AtimeNone:
		return false
	case AtimeNoDir:
		return !isDir
	case AtimeRelative:
		if attrs.Atime.Before(attrs.Mtime) || attrs.Atime.Before(attrs.Ctime) {
			return true
		}
		return c.now().Sub(attrs.Atime) > relatimeStaleAfter
	default: // AtimeStrict
		return true
	}
}

// Attributes is the stat-able metadata a node exposes.
type Attributes struct {
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}
