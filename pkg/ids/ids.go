// Package ids issues the identifiers used to name breakpoints and
// watchpoints within one debug session.
package ids

import (
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"
)

// None is the zero identifier, never returned by Allocate.
const None = 0

// Allocator issues identifiers from a monotonic counter starting at 1.
// Identifiers are never reused, so an identifier is unique among live
// entities and also among every entity retired during the session.
//
// Retired identifiers are remembered in a bounded cache so that events
// arriving from the target after an entity was removed can be recognized
// as stale instead of unknown.
type Allocator struct {
	next    atomic.Int64
	retired *lru.Cache
}

// New returns an allocator remembering up to retiredCacheSize retired
// identifiers.
func New(retiredCacheSize int) (*Allocator, error) {
	if retiredCacheSize <= 0 {
		retiredCacheSize = 1
	}
	c, err := lru.New(retiredCacheSize)
	if err != nil {
		return nil, err
	}
	return &Allocator{retired: c}, nil
}

// Allocate returns a fresh identifier. It is safe for concurrent use.
func (a *Allocator) Allocate() int {
	return int(a.next.Inc())
}

// Issued reports whether id was ever returned by Allocate.
func (a *Allocator) Issued(id int) bool {
	return id > None && int64(id) <= a.next.Load()
}

// Retire records that the entity holding id was removed.
func (a *Allocator) Retire(id int) {
	if !a.Issued(id) {
		return
	}
	a.retired.Add(id, struct{}{})
}

// RecentlyRetired reports whether id was retired and is still remembered.
func (a *Allocator) RecentlyRetired(id int) bool {
	return a.retired.Contains(id)
}
