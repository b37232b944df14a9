package vm

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Heap object headers
// ---------------------------------------------------------------------------

// HeaderTag selects the layout of a heap object. It lives in the top 3 bits
// of the object's header word.
type HeaderTag uint8

const (
	HeaderVector   HeaderTag = 0b000 // vector-family: plain vector
	HeaderRecord   HeaderTag = 0b001 // vector-family: record
	HeaderClosure  HeaderTag = 0b010 // vector-family: closure
	HeaderBytecode HeaderTag = 0b011 // bytecode object
	headerForward  HeaderTag = 0b101 // forwarding pointer during collection
	HeaderPair     HeaderTag = 0b111 // pair
)

const (
	headerShift = 61

	// HeaderTagMask includes the tag bits of an object header.
	HeaderTagMask uint64 = 0b111 << headerShift

	// WordSize is the size of a heap word in bytes.
	WordSize = 8

	// pairWords is the size of a pair in words: header, car, cdr.
	pairWords = 3
)

func makeHeader(tag HeaderTag, payload uint64) uint64 {
	return uint64(tag)<<headerShift | payload
}

func headerTag(header uint64) HeaderTag {
	return HeaderTag(header >> headerShift)
}

// headerPayload is the object size in words for pairs and bytecode objects,
// and the element count for vector-family objects.
func headerPayload(header uint64) uint64 {
	return header &^ HeaderTagMask
}

// objectWords computes an object's total size in words from its header.
func objectWords(header uint64) uint64 {
	switch headerTag(header) {
	case HeaderPair:
		return pairWords
	case HeaderVector, HeaderRecord, HeaderClosure:
		return 1 + headerPayload(header)
	case HeaderBytecode:
		return headerPayload(header)
	default:
		panic("objectWords: bad header")
	}
}

// ---------------------------------------------------------------------------
// Heap: semispace arena, value stack, handles
// ---------------------------------------------------------------------------

// Heap owns the managed arena all pair, vector-family and bytecode objects
// live in. Objects are addressed by 8-byte-aligned byte offsets, which is
// what lets a Value carry its 3-bit tag in the low pointer bits.
//
// The value stack and the live handles are the only locations the collector
// treats as always reachable. Every allocation entry point may trigger a
// collection, and a collection moves objects: any raw offset or Value held
// outside the stack, a handle, or a registered root set is invalid the
// moment one happens.
//
// The heap is single-threaded by contract; nothing here is synchronized.
type Heap struct {
	space []uint64 // current semispace; word 0 is reserved
	next  uint64   // next free byte offset

	maxWords int // growth limit; 0 means unlimited

	stack   []Value
	handles map[*Handle]struct{}
	roots   []func(visit func(*Value))

	onBytecodeMove func(moves []BytecodeMove)

	nextDescriptor uint64 // record descriptor counter, multiples of 8

	collections int
	log         commonlog.Logger
}

// Handle is a long-lived GC root independent of stack discipline. Release
// it deterministically once the multi-step construction it roots is done.
type Handle struct {
	heap     *Heap
	value    Value
	released bool
}

// Get returns the rooted value.
func (hd *Handle) Get() Value {
	if hd.released {
		panic("Handle.Get: released handle")
	}
	return hd.value
}

// Set replaces the rooted value.
func (hd *Handle) Set(v Value) {
	if hd.released {
		panic("Handle.Set: released handle")
	}
	hd.value = v
}

// Release drops the handle from the root set.
func (hd *Handle) Release() {
	if hd.released {
		return
	}
	hd.released = true
	delete(hd.heap.handles, hd)
}

// NewHeap creates a heap with the given initial capacity in words.
func NewHeap(words int) *Heap {
	if words < 2 {
		words = 2
	}
	return &Heap{
		space:   make([]uint64, words),
		next:    WordSize, // offset 0 reserved
		handles: make(map[*Handle]struct{}),
		log:     commonlog.GetLogger("rusty-scheme.heap"),
	}
}

// SetMaxWords bounds heap growth. Zero means unlimited.
func (h *Heap) SetMaxWords(words int) {
	h.maxWords = words
}

// NewHandle creates a handle rooting v.
func (h *Heap) NewHandle(v Value) *Handle {
	hd := &Handle{heap: h, value: v}
	h.handles[hd] = struct{}{}
	return hd
}

// RegisterRoots adds an external root set. The visitor must call visit on
// every root slot; the collector rewrites each slot in place.
func (h *Heap) RegisterRoots(visitRoots func(visit func(*Value))) {
	h.roots = append(h.roots, visitRoots)
}

// BytecodeMove records one bytecode object's identity change across a
// collection.
type BytecodeMove struct {
	Old, New Value
}

// OnBytecodeMove installs a callback invoked once after every collection
// with the full batch of bytecode objects the collector moved. Side tables
// keyed by object identity must be rebuilt from the batch as a whole: the
// two semispaces share an offset numbering, so one object's new identity
// can equal another's old one, and an object absent from the batch was not
// copied and is dead.
func (h *Heap) OnBytecodeMove(fn func(moves []BytecodeMove)) {
	h.onBytecodeMove = fn
}

// Collections returns the number of collections run so far.
func (h *Heap) Collections() int {
	return h.collections
}

// LiveWords returns the currently allocated extent in words, including the
// reserved word at offset 0.
func (h *Heap) LiveWords() int {
	return int(h.next / WordSize)
}

// CapacityWords returns the current semispace capacity in words.
func (h *Heap) CapacityWords() int {
	return len(h.space)
}

// ---------------------------------------------------------------------------
// Value stack
// ---------------------------------------------------------------------------

// Push pushes v onto the value stack, rooting it.
func (h *Heap) Push(v Value) {
	h.stack = append(h.stack, v)
}

// Pop removes and returns the top of the value stack.
// Panics on an empty stack; callers own the stack discipline.
func (h *Heap) Pop() Value {
	if len(h.stack) == 0 {
		panic("Heap.Pop: value stack underflow")
	}
	v := h.stack[len(h.stack)-1]
	h.stack = h.stack[:len(h.stack)-1]
	return v
}

// Top returns the top of the value stack without removing it.
func (h *Heap) Top() Value {
	if len(h.stack) == 0 {
		panic("Heap.Top: value stack underflow")
	}
	return h.stack[len(h.stack)-1]
}

// Depth returns the value stack depth.
func (h *Heap) Depth() int {
	return len(h.stack)
}

// at returns the stack slot depth words below the top.
func (h *Heap) at(depth int) Value {
	return h.stack[len(h.stack)-1-depth]
}

// setAt overwrites the stack slot depth words below the top.
func (h *Heap) setAt(depth int, v Value) {
	h.stack[len(h.stack)-1-depth] = v
}

// truncate discards stack slots above length n.
func (h *Heap) truncate(n int) {
	h.stack = h.stack[:n]
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// word and setWord access arena words by byte offset.
func (h *Heap) word(off uint64) uint64 {
	return h.space[off/WordSize]
}

func (h *Heap) setWord(off uint64, w uint64) {
	h.space[off/WordSize] = w
}

// AllocRaw allocates words heap words, writes a header with the given tag
// and the size in words as payload, and returns the new object's byte
// offset. The remaining words are zeroed. May run a collection first;
// every live operand must already be rooted.
func (h *Heap) AllocRaw(words int, tag HeaderTag) (uint64, error) {
	if words < 1 {
		panic("AllocRaw: empty object")
	}
	need := uint64(words) * WordSize
	if h.next+need > uint64(len(h.space))*WordSize {
		if err := h.ensure(need); err != nil {
			return 0, err
		}
	}
	off := h.next
	h.next += need
	h.setWord(off, makeHeader(tag, uint64(words)))
	for i := uint64(1); i < uint64(words); i++ {
		h.space[off/WordSize+i] = 0
	}
	return off, nil
}

// ensure makes room for need more bytes, collecting and then growing.
func (h *Heap) ensure(need uint64) error {
	h.collectInto(len(h.space))
	for h.next+need > uint64(len(h.space))*WordSize {
		grown := len(h.space) * 2
		if h.maxWords > 0 && grown > h.maxWords {
			if uint64(h.maxWords)*WordSize >= h.next+need {
				grown = h.maxWords
			} else {
				return &HeapExhaustedError{
					Requested: int(need / WordSize),
					Capacity:  len(h.space),
				}
			}
		}
		h.collectInto(grown)
	}
	return nil
}

// Collect runs a full collection without growing the heap.
func (h *Heap) Collect() {
	h.collectInto(len(h.space))
}

// dropHandles invalidates every outstanding handle. Used when the arena is
// replaced wholesale, as on image load.
func (h *Heap) dropHandles() {
	for hd := range h.handles {
		hd.released = true
	}
	h.handles = make(map[*Handle]struct{})
}

// ---------------------------------------------------------------------------
// Copying collection
// ---------------------------------------------------------------------------

// collectInto copies every object reachable from the root set into a fresh
// semispace of the given size, rewriting roots to the moved copies.
func (h *Heap) collectInto(words int) {
	from := h.space
	to := make([]uint64, words)
	next := uint64(WordSize)

	var movedBCOs []BytecodeMove

	copyObject := func(off uint64) uint64 {
		header := from[off/WordSize]
		if headerTag(header) == headerForward {
			return headerPayload(header)
		}
		n := objectWords(header)
		dst := next
		copy(to[dst/WordSize:dst/WordSize+n], from[off/WordSize:off/WordSize+n])
		next += n * WordSize
		from[off/WordSize] = makeHeader(headerForward, dst)
		if headerTag(header) == HeaderBytecode {
			movedBCOs = append(movedBCOs, BytecodeMove{
				Old: fromHeap(off, TagFunction),
				New: fromHeap(dst, TagFunction),
			})
		}
		return dst
	}

	forward := func(v Value) Value {
		if !v.heapp() || v.heapOffset() == 0 {
			return v
		}
		return fromHeap(copyObject(v.heapOffset()), v.Tag())
	}
	visit := func(p *Value) {
		*p = forward(*p)
	}

	// Roots: the value stack, live handles, registered root sets.
	for i := range h.stack {
		h.stack[i] = forward(h.stack[i])
	}
	for hd := range h.handles {
		hd.value = forward(hd.value)
	}
	for _, visitRoots := range h.roots {
		visitRoots(visit)
	}

	// Cheney scan over the copied objects. Leaf values carry no interior
	// references; pairs and vector-family objects are traced slot by slot,
	// and a bytecode object's trailing constants-vector word is its one
	// traced field.
	for scan := uint64(WordSize); scan < next; {
		header := to[scan/WordSize]
		n := objectWords(header)
		switch headerTag(header) {
		case HeaderPair:
			to[scan/WordSize+1] = uint64(forward(Value(to[scan/WordSize+1])))
			to[scan/WordSize+2] = uint64(forward(Value(to[scan/WordSize+2])))
		case HeaderVector, HeaderRecord, HeaderClosure:
			count := headerPayload(header)
			for i := uint64(1); i <= count; i++ {
				to[scan/WordSize+i] = uint64(forward(Value(to[scan/WordSize+i])))
			}
		case HeaderBytecode:
			constWord := scan/WordSize + n - 1
			to[constWord] = uint64(forward(Value(to[constWord])))
		}
		scan += n * WordSize
	}

	h.space = to
	h.next = next
	h.collections++

	// Delivered even when empty: a table rebuild must also shed entries for
	// objects that were not copied.
	if h.onBytecodeMove != nil {
		h.onBytecodeMove(movedBCOs)
	}

	h.log.Debugf("collection %d: %d live words, capacity %d", h.collections, next/WordSize, words)
}
