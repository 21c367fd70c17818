package testutil

import (
	"fmt"
	"sync"
)

// IDSequence generates predictable event identifiers: prefix-0001,
// prefix-0002, ...
//
// Thread-safety: IDSequence is safe for concurrent use via internal mutex.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a generator. An empty prefix defaults to "evt".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "evt"
	}
	return &IDSequence{prefix: prefix}
}

// Generate returns the next identifier.
func (g *IDSequence) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// FixedID returns the same identifier every time. Appending two events with
// a FixedID fails on the events.uid uniqueness constraint, which tests use
// to force a scope to abort after its mutation.
type FixedID string

// Generate returns the fixed identifier.
func (f FixedID) Generate() string {
	return string(f)
}
