package source

import (
	"math/rand/v2"
	"sync"
)

// Queue is the loop of items a session plays. The order is fixed at
// construction; when shuffle is requested the items are permuted once
// and every pass through the loop replays that same permutation.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	cursor   int
	wraps    int
	shuffled bool
}

// NewQueue builds a queue over items, optionally shuffling them once.
func NewQueue(items []Item, shuffle bool) *Queue {
	q := &Queue{
		items:    make([]Item, len(items)),
		shuffled: shuffle && len(items) > 1,
	}
	copy(q.items, items)
	if q.shuffled {
		rand.Shuffle(len(q.items), func(i, j int) {
			q.items[i], q.items[j] = q.items[j], q.items[i]
		})
	}
	return q
}

// Len returns the number of items in the loop.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Current returns the item at the cursor. ok is false for an empty queue.
func (q *Queue) Current() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[q.cursor], true
}

// UpdateCurrent replaces the item at the cursor, typically after full
// metadata has been fetched for a flat playlist entry. A no-op on an
// empty queue.
func (q *Queue) UpdateCurrent(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items[q.cursor] = item
}

// Advance moves the cursor to the next item, wrapping to the start of
// the loop after the last one. wrapped reports whether this advance
// completed a pass.
func (q *Queue) Advance() (wrapped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return false
	}
	q.cursor++
	if q.cursor >= len(q.items) {
		q.cursor = 0
		q.wraps++
		return true
	}
	return false
}

// Position returns the zero-based cursor and the loop length.
func (q *Queue) Position() (index, length int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor, len(q.items)
}

// Wraps returns how many full passes the queue has completed.
func (q *Queue) Wraps() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wraps
}

// Shuffled reports whether the loop order was permuted at construction.
func (q *Queue) Shuffled() bool {
	return q.shuffled
}

// Items returns a copy of the loop in play order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}
