package wire

import (
	"fmt"
	"sync"
	"time"
)

// Tagger generates the per-frame correlation tags for one connection.
//
// Tags are "<seconds>.--<n>" where seconds is the connection's reference
// time (truncated to three digits for short tags) and n tracks the number of
// frames sent. The sent counter is bumped by the framer, not here; Next keeps
// its own high-water mark so that two callers racing ahead of their sends
// still get distinct tags.
type Tagger struct {
	mu     sync.Mutex
	ref    int64
	count  int
	issued int
}

// NewTagger creates a Tagger with the reference time fixed to now.
func NewTagger() *Tagger {
	return &Tagger{ref: time.Now().Unix()}
}

// Next returns a fresh tag. Long tags carry the full unix-seconds prefix,
// short ones only its last three digits.
func (t *Tagger) Next(long bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.count
	if t.issued > n {
		n = t.issued
	}
	t.issued = n + 1
	secs := t.ref
	if !long {
		secs %= 1000
	}
	return fmt.Sprintf("%d.--%d", secs, n)
}

// Bump records one successfully sent frame.
func (t *Tagger) Bump() {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
}

// Count returns the number of frames sent on this connection. Its string
// form is the epoch embedded in action nodes.
func (t *Tagger) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
