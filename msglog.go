package waweb

import (
	"sync"

	"github.com/waforge/waweb/wire"
)

// MessageLogEntry is one recorded frame.
type MessageLogEntry struct {
	Tag        string
	Payload    string
	FromMe     bool
	BinaryTags *wire.BinaryTags
}

// messageLog is a bounded ring of recent frames, enabled by
// Options.MaxCachedMessages. A nil log records nothing.
type messageLog struct {
	mu      sync.Mutex
	max     int
	entries []MessageLogEntry
}

func newMessageLog(max int) *messageLog {
	return &messageLog{max: max}
}

func (l *messageLog) add(e MessageLogEntry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	l.mu.Unlock()
}

func (l *messageLog) snapshot() []MessageLogEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MessageLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// MessageLog returns a copy of the recorded frames, oldest first.
func (c *Conn) MessageLog() []MessageLogEntry {
	return c.msgLog.snapshot()
}
