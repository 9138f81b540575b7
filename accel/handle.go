package accel

import "fmt"

// An opaque acceleration structure handle. The zero value is never valid.
//
// Handles encode a slot index and a generation counter so lookups of a
// destroyed handle deterministically fail even after its slot is reused.
type Handle uint64

const (
	slotBits  = 32
	genBits   = 30
	genMask   = 1<<genBits - 1
	kindShift = slotBits + genBits
	kindBLAS  = 1
	kindTLAS  = 2
	slotMask  = 1<<slotBits - 1
)

// Returns true if h is not the zero handle. It does not check whether the
// handle refers to a live structure.
func (h Handle) IsValid() bool {
	return h != 0
}

func (h Handle) String() string {
	if h == 0 {
		return "invalid"
	}
	kind := "blas"
	if h.kind() == kindTLAS {
		kind = "tlas"
	}
	return fmt.Sprintf("%s:%d.%d", kind, h.slot(), h.generation())
}

func (h Handle) kind() uint64 {
	return uint64(h) >> kindShift
}

func (h Handle) slot() uint32 {
	return uint32(uint64(h)&slotMask) - 1
}

func (h Handle) generation() uint32 {
	return uint32((uint64(h) >> slotBits) & genMask)
}

func makeHandle(kind uint64, slot, gen uint32) Handle {
	return Handle(kind<<kindShift | uint64(gen&genMask)<<slotBits | uint64(slot+1))
}

type slotEntry[T any] struct {
	gen uint32
	val *T
}

// A dense slot map keyed by generational handles. Removal is O(1) and frees
// the slot for reuse with a bumped generation. It is not safe for concurrent
// use.
type slotMap[T any] struct {
	kind  uint64
	slots []slotEntry[T]
	free  []uint32
	count int
}

func newSlotMap[T any](kind uint64) *slotMap[T] {
	return &slotMap[T]{kind: kind}
}

func (m *slotMap[T]) insert(val *T) Handle {
	var slot uint32
	if n := len(m.free); n > 0 {
		slot = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		slot = uint32(len(m.slots))
		m.slots = append(m.slots, slotEntry[T]{gen: 1})
	}

	m.slots[slot].val = val
	m.count++
	return makeHandle(m.kind, slot, m.slots[slot].gen)
}

func (m *slotMap[T]) get(h Handle) *T {
	if h == 0 || h.kind() != m.kind {
		return nil
	}

	slot := h.slot()
	if int(slot) >= len(m.slots) {
		return nil
	}

	entry := m.slots[slot]
	if entry.gen != h.generation() {
		return nil
	}
	return entry.val
}

func (m *slotMap[T]) remove(h Handle) *T {
	val := m.get(h)
	if val == nil {
		return nil
	}

	slot := h.slot()
	m.slots[slot].val = nil
	m.slots[slot].gen = (m.slots[slot].gen + 1) & genMask
	if m.slots[slot].gen == 0 {
		m.slots[slot].gen = 1
	}
	m.free = append(m.free, slot)
	m.count--
	return val
}

func (m *slotMap[T]) len() int {
	return m.count
}

// Invoke fn for each live entry in slot order.
func (m *slotMap[T]) each(fn func(Handle, *T)) {
	for slot, entry := range m.slots {
		if entry.val != nil {
			fn(makeHandle(m.kind, uint32(slot), entry.gen), entry.val)
		}
	}
}
