// Package eventlog holds the bounded, FIFO-evicting log of captured requests.
//
// A Log is a sliding window over the most recent Capacity() records. It is
// not safe for concurrent use: callers serialize every operation, which the
// daemon does by running capture deliveries and commands under one lock.
package eventlog

import (
	"github.com/modoterra/reqlog/pkg/core"
)

// Capacity bounds.
const (
	MinCapacity     = 1
	MaxCapacity     = 1000
	DefaultCapacity = 5
)

// Op names the mutation that produced a Change.
type Op string

const (
	OpAppend   Op = "append"
	OpCapacity Op = "capacity"
	OpClear    Op = "clear"
	OpRestore  Op = "restore"
)

// Change is the "changed" notification emitted after every mutation.
type Change struct {
	Seq      uint64 `json:"seq"`
	Op       Op     `json:"op"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

// Log is a ring buffer of EventRecords with capacity in [MinCapacity, MaxCapacity].
type Log struct {
	buf      []core.EventRecord // len(buf) == capacity
	head     int                // index of the oldest record
	size     int
	capacity int

	seq     uint64
	subs    map[int]func(Change)
	nextSub int
}

// New creates an empty log. The capacity is clamped into range.
func New(capacity int) *Log {
	c := ClampCapacity(capacity)
	return &Log{
		buf:      make([]core.EventRecord, c),
		capacity: c,
		subs:     make(map[int]func(Change)),
	}
}

// ClampCapacity maps any integer into [MinCapacity, MaxCapacity].
func ClampCapacity(n int) int {
	switch {
	case n < MinCapacity:
		return MinCapacity
	case n > MaxCapacity:
		return MaxCapacity
	default:
		return n
	}
}

// Capacity returns the maximum number of retained records.
func (l *Log) Capacity() int { return l.capacity }

// Size returns the number of retained records.
func (l *Log) Size() int { return l.size }

// Seq returns the sequence number of the most recent Change, 0 before any.
func (l *Log) Seq() uint64 { return l.seq }

// Append normalizes raw and admits it, evicting the oldest records first.
func (l *Log) Append(raw core.RawEvent) {
	l.AppendRecord(core.Normalize(raw))
}

// AppendRecord admits an already-normalized record.
func (l *Log) AppendRecord(rec core.EventRecord) {
	l.admit(rec)
	l.notify(OpAppend)
}

// SetCapacity clamps n and evicts from the front until the log fits.
func (l *Log) SetCapacity(n int) {
	c := ClampCapacity(n)
	if c != l.capacity {
		l.resize(c)
	}
	l.notify(OpCapacity)
}

// Clear drops every record. Capacity is unchanged.
func (l *Log) Clear() {
	clear(l.buf)
	l.head = 0
	l.size = 0
	l.notify(OpClear)
}

// Restore replaces the contents with records, keeping only the most recent
// Capacity() of them. It is used once at startup to rehydrate persisted state.
func (l *Log) Restore(records []core.EventRecord) {
	clear(l.buf)
	l.head = 0
	l.size = 0
	for _, rec := range records {
		l.admit(rec)
	}
	l.notify(OpRestore)
}

// Snapshot returns the retained records, oldest first, in a fresh slice.
func (l *Log) Snapshot() []core.EventRecord {
	out := make([]core.EventRecord, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%l.capacity]
	}
	return out
}

// Subscribe registers fn to be called synchronously after every mutation.
// The returned function removes the subscription.
func (l *Log) Subscribe(fn func(Change)) func() {
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() { delete(l.subs, id) }
}

func (l *Log) admit(rec core.EventRecord) {
	for l.size >= l.capacity {
		l.evictOldest()
	}
	l.buf[(l.head+l.size)%l.capacity] = rec
	l.size++
}

func (l *Log) evictOldest() {
	l.buf[l.head] = core.EventRecord{}
	l.head = (l.head + 1) % l.capacity
	l.size--
}

// resize rebuilds the ring with the newest min(size, c) records at index 0.
func (l *Log) resize(c int) {
	keep := min(l.size, c)
	next := make([]core.EventRecord, c)
	skip := l.size - keep
	for i := 0; i < keep; i++ {
		next[i] = l.buf[(l.head+skip+i)%l.capacity]
	}
	l.buf = next
	l.head = 0
	l.size = keep
	l.capacity = c
}

func (l *Log) notify(op Op) {
	l.seq++
	ch := Change{Seq: l.seq, Op: op, Size: l.size, Capacity: l.capacity}
	for _, fn := range l.subs {
		fn(ch)
	}
}
