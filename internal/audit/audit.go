/*

Append-only audit trail. Each successful public operation records exactly one
typed event; sinks fan out to memory and durable stores. The engine never
reads the trail back.

*/

package audit

import (
	"sync"
	"time"

	"github.com/kfund-labs/uniliq/internal/types"
)

// Recorder accepts audit events. Implementations must not fail the
// originating operation; durable sinks log and drop on write errors.
type Recorder interface {
	Record(ev types.Event)
}

// Entry is one recorded event with its observation time.
type Entry struct {
	At    time.Time   `json:"at"`
	Name  string      `json:"name"`
	Event types.Event `json:"event"`
}

// Log is the in-memory audit trail.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Record(ev types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{At: time.Now().UTC(), Name: ev.EventName(), Event: ev})
}

// Entries returns a copy of the recorded trail, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Multi fans one event out to several recorders in order.
type Multi []Recorder

func (m Multi) Record(ev types.Event) {
	for _, r := range m {
		r.Record(ev)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(types.Event) {}
