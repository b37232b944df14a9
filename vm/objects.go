package vm

// Heap object layouts built on the value encoding.
//
// Pair: header + car + cdr. Mutable in place; pairs alias freely and may
// form cyclic graphs.
//
// Vector-family: header + an inline sequence of Value slots, length in the
// header's count field. Plain vectors hold arbitrary slots; a record's
// slot 0 holds its descriptor; a closure's slot 0 holds a bytecode object
// reference and the remaining slots the captured environment.
//
// Constructors push their operands onto the value stack before allocating,
// so a collection triggered by the allocation cannot invalidate them.

// ---------------------------------------------------------------------------
// Pairs
// ---------------------------------------------------------------------------

// Cons allocates a fresh pair. May trigger a collection.
func (h *Heap) Cons(car, cdr Value) (Value, error) {
	h.Push(car)
	h.Push(cdr)
	off, err := h.AllocRaw(pairWords, HeaderPair)
	if err != nil {
		return Nil, err
	}
	cdr = h.Pop()
	car = h.Pop()
	h.setWord(off+WordSize, uint64(car))
	h.setWord(off+2*WordSize, uint64(cdr))
	return fromHeap(off, TagPair), nil
}

// Car returns the car of a pair.
func (h *Heap) Car(v Value) (Value, error) {
	if v.Tag() != TagPair {
		return Nil, &WrongTypeError{Op: "car", Want: TagPair, Got: v.Tag()}
	}
	return Value(h.word(v.heapOffset() + WordSize)), nil
}

// Cdr returns the cdr of a pair.
func (h *Heap) Cdr(v Value) (Value, error) {
	if v.Tag() != TagPair {
		return Nil, &WrongTypeError{Op: "cdr", Want: TagPair, Got: v.Tag()}
	}
	return Value(h.word(v.heapOffset() + 2*WordSize)), nil
}

// SetCar mutates the car slot. Every alias of the pair observes the change.
func (h *Heap) SetCar(v, car Value) error {
	if v.Tag() != TagPair {
		return &WrongTypeError{Op: "set-car!", Want: TagPair, Got: v.Tag()}
	}
	h.setWord(v.heapOffset()+WordSize, uint64(car))
	return nil
}

// SetCdr mutates the cdr slot.
func (h *Heap) SetCdr(v, cdr Value) error {
	if v.Tag() != TagPair {
		return &WrongTypeError{Op: "set-cdr!", Want: TagPair, Got: v.Tag()}
	}
	h.setWord(v.heapOffset()+2*WordSize, uint64(cdr))
	return nil
}

// ---------------------------------------------------------------------------
// Vector-family construction
// ---------------------------------------------------------------------------

// makeVectorFamily allocates a vector-family object whose slots are the
// given values, under the given sub-kind.
func (h *Heap) makeVectorFamily(sub HeaderTag, slots []Value) (Value, error) {
	for _, v := range slots {
		h.Push(v)
	}
	off, err := h.AllocRaw(1+len(slots), sub)
	if err != nil {
		return Nil, err
	}
	// Header payload is the element count, not the size in words.
	h.setWord(off, makeHeader(sub, uint64(len(slots))))
	for i := len(slots) - 1; i >= 0; i-- {
		h.setWord(off+uint64(1+i)*WordSize, uint64(h.Pop()))
	}
	return fromHeap(off, TagVector), nil
}

// MakeVector allocates a plain vector holding the given elements.
func (h *Heap) MakeVector(elems ...Value) (Value, error) {
	return h.makeVectorFamily(HeaderVector, elems)
}

// MakeRecord allocates a record: slot 0 is the descriptor, the remaining
// slots are the fields.
func (h *Heap) MakeRecord(descriptor Value, fields ...Value) (Value, error) {
	slots := make([]Value, 0, 1+len(fields))
	slots = append(slots, descriptor)
	slots = append(slots, fields...)
	return h.makeVectorFamily(HeaderRecord, slots)
}

// MakeClosure allocates a closure: slot 0 is the bytecode object, the
// remaining slots are the captured environment.
func (h *Heap) MakeClosure(bytecode Value, env ...Value) (Value, error) {
	if bytecode.Tag() != TagFunction {
		return Nil, &WrongTypeError{Op: "make-closure", Want: TagFunction, Got: bytecode.Tag()}
	}
	slots := make([]Value, 0, 1+len(env))
	slots = append(slots, bytecode)
	slots = append(slots, env...)
	return h.makeVectorFamily(HeaderClosure, slots)
}

// ---------------------------------------------------------------------------
// Vector-family access
// ---------------------------------------------------------------------------

// vectorHeader fetches the header of a vector-family value.
func (h *Heap) vectorHeader(op string, v Value) (uint64, error) {
	if v.Tag() != TagVector {
		return 0, &WrongTypeError{Op: op, Want: TagVector, Got: v.Tag()}
	}
	return h.word(v.heapOffset()), nil
}

// VectorSubKind returns the sub-kind of a vector-family value.
func (h *Heap) VectorSubKind(v Value) (HeaderTag, error) {
	header, err := h.vectorHeader("vector-sub-kind", v)
	if err != nil {
		return 0, err
	}
	return headerTag(header), nil
}

// ArrayLength returns the recorded slot count of a vector-family value.
// Records and closures count slot 0 like any other slot.
func (h *Heap) ArrayLength(v Value) (int, error) {
	header, err := h.vectorHeader("array-length", v)
	if err != nil {
		return 0, err
	}
	return int(headerPayload(header)), nil
}

// ArrayGet reads a slot. The index is valid iff it is strictly less than
// the recorded length, regardless of sub-kind.
func (h *Heap) ArrayGet(v Value, index int) (Value, error) {
	header, err := h.vectorHeader("array-get", v)
	if err != nil {
		return Nil, err
	}
	length := int(headerPayload(header))
	if index < 0 || index >= length {
		return Nil, &IndexOutOfRangeError{Op: "array-get", Index: index, Length: length}
	}
	return Value(h.word(v.heapOffset() + uint64(1+index)*WordSize)), nil
}

// ArraySet writes a slot, under the same bounds rule as ArrayGet.
func (h *Heap) ArraySet(v Value, index int, elem Value) error {
	header, err := h.vectorHeader("array-set", v)
	if err != nil {
		return err
	}
	length := int(headerPayload(header))
	if index < 0 || index >= length {
		return &IndexOutOfRangeError{Op: "array-set", Index: index, Length: length}
	}
	h.setWord(v.heapOffset()+uint64(1+index)*WordSize, uint64(elem))
	return nil
}

// IsVector reports whether v is a plain vector (not a record or closure).
func (h *Heap) IsVector(v Value) bool {
	sub, err := h.VectorSubKind(v)
	return err == nil && sub == HeaderVector
}

// ClosureBytecode returns the bytecode object of a closure.
func (h *Heap) ClosureBytecode(v Value) (Value, error) {
	sub, err := h.VectorSubKind(v)
	if err != nil {
		return Nil, err
	}
	if sub != HeaderClosure {
		return Nil, &WrongTypeError{Op: "closure-bytecode", Want: TagFunction, Got: v.Tag()}
	}
	return h.ArrayGet(v, 0)
}

// ---------------------------------------------------------------------------
// Record descriptors
// ---------------------------------------------------------------------------

// Record descriptors are heap-independent identifiers used for record type
// identity. Each is a nonzero multiple of 8, so a descriptor word carries
// the fixnum tag and is a leaf for the collector.

// NewRecordDescriptor returns a fresh record descriptor.
func (h *Heap) NewRecordDescriptor() Value {
	if h.nextDescriptor == 0 {
		h.nextDescriptor = 8
	}
	d := h.nextDescriptor
	h.nextDescriptor += 8
	return Value(d)
}
