// Package dedup tracks message identities that have already been delivered
// so broker redelivery and reconnect replays do not render twice.
package dedup

import (
	"sync"
	"time"

	"github.com/johndosdos/supportchat/internal/clock"
)

// DefaultCapacity is the number of ids a Ledger remembers before evicting
// the oldest.
const DefaultCapacity = 4096

type entry struct {
	id     string
	seenAt time.Time
}

// Ledger is a bounded set of message ids kept in insertion order. Once full,
// marking a new id evicts the oldest one. When a retention window is set,
// ids older than the window are forgotten as well.
//
// Empty ids are never recorded and never reported as seen.
//
// All methods are safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	clock     clock.Clock
	retention time.Duration
	ring      []entry
	head      int // index of the oldest entry
	size      int
	index     map[string]time.Time
}

type Option func(*Ledger)

// WithCapacity bounds the number of remembered ids. Values below 1 are
// ignored.
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.ring = make([]entry, n)
		}
	}
}

// WithRetention forgets ids older than d. Zero disables age-based eviction.
func WithRetention(d time.Duration) Option {
	return func(l *Ledger) { l.retention = d }
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock: clock.Real(),
		ring:  make([]entry, DefaultCapacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.index = make(map[string]time.Time, len(l.ring))
	return l
}

// Seen reports whether id has already been marked.
func (l *Ledger) Seen(id string) bool {
	if id == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.expire()
	_, ok := l.index[id]
	return ok
}

// MarkSeen records id. Marking an id twice does not refresh its position.
func (l *Ledger) MarkSeen(id string) {
	if id == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.expire()
	l.mark(id)
}

// Admit marks id and reports whether it was new. Messages without an id are
// always admitted.
func (l *Ledger) Admit(id string) bool {
	if id == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.expire()
	if _, ok := l.index[id]; ok {
		return false
	}
	l.mark(id)
	return true
}

// Len returns the number of remembered ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.index)
}

// Reset forgets every id.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.ring)
	clear(l.index)
	l.head = 0
	l.size = 0
}

func (l *Ledger) mark(id string) {
	if _, ok := l.index[id]; ok {
		return
	}
	if l.size == len(l.ring) {
		l.evictOldest()
	}

	now := l.clock.Now()
	tail := (l.head + l.size) % len(l.ring)
	l.ring[tail] = entry{id: id, seenAt: now}
	l.size++
	l.index[id] = now
}

func (l *Ledger) evictOldest() {
	oldest := l.ring[l.head]
	delete(l.index, oldest.id)
	l.ring[l.head] = entry{}
	l.head = (l.head + 1) % len(l.ring)
	l.size--
}

// expire drops entries that fell out of the retention window. Entries are
// in insertion order, so it stops at the first one still inside.
func (l *Ledger) expire() {
	if l.retention <= 0 {
		return
	}
	cutoff := l.clock.Now().Add(-l.retention)
	for l.size > 0 && l.ring[l.head].seenAt.Before(cutoff) {
		l.evictOldest()
	}
}
