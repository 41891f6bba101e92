package engine

import (
	"sync"
)

// SlotBuffer is one fixed-capacity chunk exchanged between generator and sender.
type SlotBuffer struct {
	bytes  []byte
	length int
	Meta   PacketMetadata
}

func newSlotBuffer(capacity int) *SlotBuffer {
	return &SlotBuffer{bytes: make([]byte, capacity)}
}

// Cap is the fixed capacity of the slot.
func (s *SlotBuffer) Cap() int { return len(s.bytes) }

// Len is the number of valid bytes.
func (s *SlotBuffer) Len() int { return s.length }

// Bytes returns only the valid part of the slot.
func (s *SlotBuffer) Bytes() []byte { return s.bytes[:s.length] }

// Space returns the whole backing array for filling. Call SetLen afterwards.
func (s *SlotBuffer) Space() []byte { return s.bytes }

// SetLen marks the first n bytes valid. n outside [0, Cap] is a programming error.
func (s *SlotBuffer) SetLen(n int) {
	if n < 0 || n > len(s.bytes) {
		panic("engine: slot length out of range")
	}
	s.length = n
}

// DoubleBuffer owns two slots. One is write-designated, the other
// read-designated; Swap exchanges the designations.
//
// Handles take the swap lock shared and their slot lock exclusively,
// Swap takes the swap lock exclusively, so no handle can be outstanding
// while the designation changes. A goroutine must not call Swap while it
// holds a handle.
type DoubleBuffer struct {
	swapLock   sync.RWMutex
	slotLock   [2]sync.Mutex
	slots      [2]*SlotBuffer
	writeIndex int
}

// NewDoubleBuffer allocates both slots with the given capacity.
func NewDoubleBuffer(capacity int) *DoubleBuffer {
	return &DoubleBuffer{
		slots: [2]*SlotBuffer{newSlotBuffer(capacity), newSlotBuffer(capacity)},
	}
}

// SlotHandle is exclusive access to one slot until Release.
type SlotHandle struct {
	db    *DoubleBuffer
	index int
	slot  *SlotBuffer
}

// Slot is the buffer behind the handle. It must not be kept after Release.
func (h *SlotHandle) Slot() *SlotBuffer { return h.slot }

// Index is the slot index the handle holds.
func (h *SlotHandle) Index() int { return h.index }

// Release gives the slot back. Releasing twice is a programming error.
func (h *SlotHandle) Release() {
	if h.slot == nil {
		panic("engine: slot handle released twice")
	}
	h.slot = nil
	h.db.slotLock[h.index].Unlock()
	h.db.swapLock.RUnlock()
}

func (db *DoubleBuffer) acquire(write bool) *SlotHandle {
	db.swapLock.RLock()
	i := db.writeIndex
	if !write {
		i = 1 - i
	}
	db.slotLock[i].Lock()
	return &SlotHandle{db: db, index: i, slot: db.slots[i]}
}

// AcquireWrite blocks until the write slot is free and returns a handle to it.
func (db *DoubleBuffer) AcquireWrite() *SlotHandle { return db.acquire(true) }

// AcquireRead blocks until the read slot is free and returns a handle to it.
func (db *DoubleBuffer) AcquireRead() *SlotHandle { return db.acquire(false) }

// Write runs fn with the write slot held for exactly the duration of the call.
func (db *DoubleBuffer) Write(fn func(*SlotBuffer)) {
	h := db.AcquireWrite()
	defer h.Release()
	fn(h.slot)
}

// Read runs fn with the read slot held for exactly the duration of the call.
func (db *DoubleBuffer) Read(fn func(*SlotBuffer) error) error {
	h := db.AcquireRead()
	defer h.Release()
	return fn(h.slot)
}

// Swap waits until no handle is outstanding and toggles the designations.
func (db *DoubleBuffer) Swap() {
	db.swapLock.Lock()
	db.toggle()
	db.swapLock.Unlock()
}

// TrySwap is Swap that fails with ErrBusy instead of waiting.
func (db *DoubleBuffer) TrySwap() error {
	if !db.swapLock.TryLock() {
		return ErrBusy
	}
	db.toggle()
	db.swapLock.Unlock()
	return nil
}

func (db *DoubleBuffer) toggle() {
	switch db.writeIndex {
	case 0:
		db.writeIndex = 1
	case 1:
		db.writeIndex = 0
	default:
		panic("engine: write index out of range")
	}
}

// WriteIndex is the currently write-designated slot.
func (db *DoubleBuffer) WriteIndex() int {
	db.swapLock.RLock()
	defer db.swapLock.RUnlock()
	return db.writeIndex
}
