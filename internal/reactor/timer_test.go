package reactor

import (
	"testing"
	"time"
)

func TestTimerWheelMonotonicOrder(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()
	c1 := &Connection{FD: 1}
	c2 := &Connection{FD: 2}
	c3 := &Connection{FD: 3}

	// insert out of deadline order to exercise heap ordering
	w.heap = append(w.heap, nil)
	w.heap = w.heap[:0]
	insertAt := func(c *Connection, d time.Duration) {
		w.seq++
		e := &timerEntry{deadline: base.Add(d), seq: w.seq, conn: c}
		w.heap = append(w.heap, e)
		w.byFD[c.FD] = e
	}
	insertAt(c2, 20*time.Millisecond)
	insertAt(c1, 10*time.Millisecond)
	insertAt(c3, 30*time.Millisecond)
	fixHeap(w)

	expired := w.Tick(base.Add(25 * time.Millisecond))
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired entries, got %d", len(expired))
	}
	if expired[0] != c1 || expired[1] != c2 {
		t.Fatalf("expired out of deadline order: %v", expired)
	}
	if w.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", w.Len())
	}
}

func TestTimerWheelIdempotentBeforeMinimum(t *testing.T) {
	w := NewTimerWheel()
	c := &Connection{FD: 1}
	w.Add(c, time.Hour)
	expired := w.Tick(time.Now())
	if len(expired) != 0 {
		t.Fatalf("expected no expired entries, got %d", len(expired))
	}
	if w.Len() != 1 {
		t.Fatalf("tick must not mutate the wheel before the minimum deadline")
	}
}

func TestTimerWheelRemove(t *testing.T) {
	w := NewTimerWheel()
	c1 := &Connection{FD: 1}
	c2 := &Connection{FD: 2}
	w.Add(c1, time.Millisecond)
	w.Add(c2, time.Millisecond)
	w.Remove(c1)
	if w.Len() != 1 {
		t.Fatalf("expected 1 entry after remove, got %d", w.Len())
	}
	expired := w.Tick(time.Now().Add(time.Second))
	if len(expired) != 1 || expired[0] != c2 {
		t.Fatalf("expected only c2 to expire, got %v", expired)
	}
}

// fixHeap restores heap ordering after test code appends entries directly,
// bypassing Add's heap.Push so deadlines can be installed out of order.
func fixHeap(w *TimerWheel) {
	for i := len(w.heap)/2 - 1; i >= 0; i-- {
		down(w.heap, i)
	}
}

func down(h timerHeap, i int) {
	n := len(h)
	for {
		l, r, smallest := 2*i+1, 2*i+2, i
		if l < n && h.Less(l, smallest) {
			smallest = l
		}
		if r < n && h.Less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.Swap(i, smallest)
		i = smallest
	}
}
