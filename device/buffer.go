package device

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// Tracks device memory allocations against a fixed budget.
type memoryPool struct {
	sync.Mutex

	used   uint64
	budget uint64
}

func (p *memoryPool) reserve(size uint64) error {
	p.Lock()
	defer p.Unlock()

	if p.used+size > p.budget {
		return fmt.Errorf("%w (requested %d bytes; %d of %d in use)", ErrOutOfMemory, size, p.used, p.budget)
	}
	p.used += size
	return nil
}

func (p *memoryPool) release(size uint64) {
	p.Lock()
	defer p.Unlock()

	if size > p.used {
		size = p.used
	}
	p.used -= size
}

func (p *memoryPool) usage() (used, budget uint64) {
	p.Lock()
	defer p.Unlock()
	return p.used, p.budget
}

// A Buffer is a block of device memory. Data is copied in and out of the
// buffer; callers never get direct access to device storage.
type Buffer struct {
	// The pool that backs this buffer's allocation.
	pool *memoryPool

	// A name for identifying the buffer.
	name string

	// Device storage; nil while unallocated.
	storage []byte
}

// Get buffer name.
func (b *Buffer) Name() string {
	return b.name
}

// Get buffer size. A nil buffer has zero size.
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return len(b.storage)
}

// Check whether the buffer holds an allocation.
func (b *Buffer) Valid() bool {
	return b != nil && b.storage != nil
}

// Allocate a buffer with the given size.
func (b *Buffer) Allocate(size int) error {
	// If the buffer is already allocated release it
	b.Release()

	if size <= 0 {
		return fmt.Errorf("device: could not allocate buffer %s of size %d", b.name, size)
	}

	if err := b.pool.reserve(uint64(size)); err != nil {
		return fmt.Errorf("device: could not allocate buffer %s: %w", b.name, err)
	}
	b.storage = make([]byte, size)

	return nil
}

// Allocate a buffer with enough capacity to fit the given data.
func (b *Buffer) AllocateToFitData(data interface{}) error {
	_, dataLen := getSliceData(data)
	if dataLen == 0 {
		b.Release()
		return fmt.Errorf("device: could not allocate buffer %s: %w", b.name, ErrEmptyData)
	}

	return b.Allocate(dataLen)
}

// Allocate a buffer that is large enough to hold the given data and copy the
// data into it. The behavior of this method is undefined if a non-slice
// argument is passed or the slice elements contain pointers.
func (b *Buffer) AllocateAndWriteData(data interface{}) error {
	err := b.AllocateToFitData(data)
	if err != nil {
		return err
	}

	return b.WriteData(data, 0)
}

// Write data to the device buffer starting at the given byte offset. The
// behavior of this method is undefined if a non-slice argument is passed or
// the slice elements contain pointers.
func (b *Buffer) WriteData(data interface{}, offset int) error {
	if b.storage == nil {
		return fmt.Errorf("device: could not write to buffer %s: %w", b.name, ErrBufferNotAllocated)
	}

	dataPtr, dataLen := getSliceData(data)
	if dataLen == 0 {
		return nil
	}

	if offset < 0 || offset+dataLen > len(b.storage) {
		return fmt.Errorf("device: insufficient buffer space (%d) in %s for copying data of length %d at offset %d", len(b.storage), b.name, dataLen, offset)
	}

	copy(b.storage[offset:], unsafe.Slice((*byte)(dataPtr), dataLen))
	return nil
}

// Read data from device buffer into the supplied host slice. The behavior of
// this method is undefined if a non-slice argument is passed or the slice
// elements contain pointers.
//
// If size is <= 0 then ReadData will read the entire buffer. Both src and dst
// offsets are specified in bytes.
func (b *Buffer) ReadData(srcOffset, dstOffset, size int, hostBuffer interface{}) error {
	if b.storage == nil {
		return fmt.Errorf("device: could not read from buffer %s: %w", b.name, ErrBufferNotAllocated)
	}

	if size <= 0 {
		size = len(b.storage) - srcOffset
	}

	dataPtr, dataLen := getSliceData(hostBuffer)
	if srcOffset < 0 || srcOffset+size > len(b.storage) {
		return fmt.Errorf("device: read of %d bytes at offset %d exceeds size (%d) of buffer %s", size, srcOffset, len(b.storage), b.name)
	}
	if dstOffset < 0 || dstOffset+size > dataLen {
		return fmt.Errorf("device: host buffer of length %d cannot fit %d bytes at offset %d from buffer %s", dataLen, size, dstOffset, b.name)
	}

	dst := unsafe.Slice((*byte)(dataPtr), dataLen)
	copy(dst[dstOffset:dstOffset+size], b.storage[srcOffset:srcOffset+size])
	return nil
}

// Release buffer. Releasing a nil or released buffer is a no-op.
func (b *Buffer) Release() {
	if b != nil && b.storage != nil {
		b.pool.release(uint64(len(b.storage)))
		b.storage = nil
	}
}

// Given an interface{} containing a slice return a pointer to its data and
// its length in bytes. Empty slices return a nil pointer.
func getSliceData(data interface{}) (unsafe.Pointer, int) {
	reflVal := reflect.ValueOf(data)

	if reflVal.Kind() != reflect.Slice {
		panic("getSliceData: this function only supports slices")
	}

	sliceElemCount := reflVal.Len()
	if sliceElemCount == 0 {
		return nil, 0
	}

	return unsafe.Pointer(reflVal.Index(0).Addr().Pointer()),
		sliceElemCount * int(reflVal.Type().Elem().Size())
}
