// Package history keeps the time-ordered record of engine ticks.
package history

import (
	"sort"
	"sync"

	"github.com/san-kum/stabsim/internal/dynamo"
)

const initialSize = 256

// Buffer is a ring of samples. Storage grows on demand up to capacity;
// with capacity 0 it grows without bound. Safe for one writer and many
// readers.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	samples  []dynamo.Sample
	start    int
	count    int
}

func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	size := initialSize
	if capacity > 0 && capacity < size {
		size = capacity
	}
	return &Buffer{
		capacity: capacity,
		samples:  make([]dynamo.Sample, size),
	}
}

// Append records s, evicting the oldest sample when the ring is full.
// Callers append in time order.
func (b *Buffer) Append(s dynamo.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.samples) {
		if b.capacity == 0 || len(b.samples) < b.capacity {
			b.grow()
		} else {
			b.samples[b.start] = s
			b.start = (b.start + 1) % len(b.samples)
			return
		}
	}
	b.samples[(b.start+b.count)%len(b.samples)] = s
	b.count++
}

func (b *Buffer) grow() {
	size := len(b.samples) * 2
	if b.capacity > 0 && size > b.capacity {
		size = b.capacity
	}
	next := make([]dynamo.Sample, size)
	b.copyTo(next, 0, b.count)
	b.samples = next
	b.start = 0
}

// copyTo copies logical positions [from, to) into dst.
func (b *Buffer) copyTo(dst []dynamo.Sample, from, to int) {
	for i := from; i < to; i++ {
		dst[i-from] = b.samples[(b.start+i)%len(b.samples)]
	}
}

func (b *Buffer) at(i int) dynamo.Sample {
	return b.samples[(b.start+i)%len(b.samples)]
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Last returns the newest sample.
func (b *Buffer) Last() (dynamo.Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return dynamo.Sample{}, false
	}
	return b.at(b.count - 1), true
}

// Window returns a copy of the selected suffix, oldest first.
func (b *Buffer) Window(w dynamo.Window) []dynamo.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	from := 0
	switch {
	case w.Count > 0:
		if w.Count < b.count {
			from = b.count - w.Count
		}
	case w.Seconds > 0:
		cutoff := b.at(b.count-1).T - w.Seconds
		from = sort.Search(b.count, func(i int) bool {
			return b.at(i).T >= cutoff
		})
	}

	out := make([]dynamo.Sample, b.count-from)
	b.copyTo(out, from, b.count)
	return out
}

// All returns a copy of every retained sample.
func (b *Buffer) All() []dynamo.Sample {
	return b.Window(dynamo.Window{})
}
