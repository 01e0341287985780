package gpu

// History holds the two physical allocations of a temporally reused
// resource. Swap flips which one is current; nothing is copied.
type History[T any] struct {
	slots  [2]T
	parity int
}

func NewHistory[T any](a, b T) *History[T] {
	return &History[T]{slots: [2]T{a, b}}
}

func (h *History[T]) Current() T  { return h.slots[h.parity] }
func (h *History[T]) Previous() T { return h.slots[h.parity^1] }
func (h *History[T]) Parity() int { return h.parity }
func (h *History[T]) Swap()       { h.parity ^= 1 }

// Slots returns both allocations in physical order.
func (h *History[T]) Slots() [2]T { return h.slots }

// Reset replaces both allocations after a reallocation.
func (h *History[T]) Reset(a, b T) {
	h.slots = [2]T{a, b}
	h.parity = 0
}
