// Package arena provides dense storage addressed by stable, generation-checked
// handles. A handle to a removed slot never resolves again, even after the
// slot is reused.
package arena

import "fmt"

// Handle addresses one slot of an Arena. The zero Handle is never valid.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.Gen == 0 }

func (h Handle) String() string { return fmt.Sprintf("%d:%d", h.Index, h.Gen) }

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

// Arena is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	n     int
}

// New creates an empty arena.
func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.val = v
	s.live = true
	a.n++
	return Handle{Index: idx, Gen: s.gen}
}

// Get resolves h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	if !a.valid(h) {
		var zero T
		return zero, false
	}
	return a.slots[h.Index].val, true
}

// Set replaces the value behind h.
func (a *Arena[T]) Set(h Handle, v T) bool {
	if !a.valid(h) {
		return false
	}
	a.slots[h.Index].val = v
	return true
}

// Remove frees the slot behind h. It returns the removed value.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !a.valid(h) {
		return zero, false
	}
	s := &a.slots[h.Index]
	v := s.val
	s.val = zero
	s.live = false
	a.free = append(a.free, h.Index)
	a.n--
	return v, true
}

// Len is the number of live values.
func (a *Arena[T]) Len() int { return a.n }

// Each calls fn for every live value in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: s.gen}, s.val) {
			return
		}
	}
}

// Handles returns the live handles in slot order.
func (a *Arena[T]) Handles() []Handle {
	out := make([]Handle, 0, a.n)
	a.Each(func(h Handle, _ T) bool {
		out = append(out, h)
		return true
	})
	return out
}

func (a *Arena[T]) valid(h Handle) bool {
	if h.Gen == 0 || int(h.Index) >= len(a.slots) {
		return false
	}
	s := a.slots[h.Index]
	return s.live && s.gen == h.Gen
}
