package reactor

import (
	"container/heap"
	"sync"
	"time"
)

// timerEntry is one (deadline, connection) pair. Ties on identical
// deadlines are broken by seq, a monotonic insertion counter, so the
// underlying heap stays a strict total order. Each entry records its
// own heap index so Remove stays O(log n).
type timerEntry struct {
	deadline time.Time
	seq      uint64
	conn     *Connection
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerWheel is a time-ordered multiset of (deadline, Connection) entries,
// kept as a binary heap rather than an actual hashed timer wheel -- see
// the GLOSSARY's "used loosely" caveat. Tick and the dispatch-time
// deadline re-arm run on the reactor's loop thread, but worker-pool
// tasks tear entries down when a callback closes the connection, so the
// wheel carries its own lock.
type TimerWheel struct {
	mu   sync.Mutex
	heap timerHeap
	seq  uint64
	byFD map[int]*timerEntry
}

// NewTimerWheel returns an empty wheel.
func NewTimerWheel() *TimerWheel {
	return &TimerWheel{byFD: make(map[int]*timerEntry)}
}

// Add inserts a new deadline for conn, now+timeout. A connection may
// appear at most once; Add does not check for an existing entry because
// the reactor always Removes a connection's entry before re-arming it.
func (t *TimerWheel) Add(conn *Connection, timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	e := &timerEntry{deadline: time.Now().Add(timeout), seq: t.seq, conn: conn}
	heap.Push(&t.heap, e)
	t.byFD[conn.FD] = e
}

// Remove cancels conn's outstanding timer entry, if any. O(log n).
func (t *TimerWheel) Remove(conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byFD[conn.FD]
	if !ok {
		return
	}
	heap.Remove(&t.heap, e.index)
	delete(t.byFD, conn.FD)
}

// Tick removes and returns every connection whose deadline is at or
// before now, in strictly non-decreasing deadline order. Calling Tick
// with a now earlier than the minimum deadline is a no-op that invokes
// no callback and leaves the wheel untouched.
func (t *TimerWheel) Tick(now time.Time) []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*Connection
	for t.heap.Len() > 0 {
		e := t.heap[0]
		if now.Before(e.deadline) {
			break
		}
		heap.Pop(&t.heap)
		delete(t.byFD, e.conn.FD)
		expired = append(expired, e.conn)
	}
	return expired
}

// Len reports the number of outstanding timer entries.
func (t *TimerWheel) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heap.Len()
}
