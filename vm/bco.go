package vm

import "errors"

// ---------------------------------------------------------------------------
// Bytecode objects
// ---------------------------------------------------------------------------

// On-heap bytecode object layout, reproduced exactly for tooling:
//
//	header word        (HeaderBytecode, size in words)
//	byte-length word
//	code bytes, padded up to a whole-word boundary
//	constants-vector word
//
// The constants vector is not a declared field of the code region; it sits
// in the word immediately following it, so one allocation serves both the
// code and its constant pool. Bytecode objects are immutable after
// construction except for the constants word, which only the collector
// rewrites.

// bcoPrefixWords is the header word plus the byte-length word.
const bcoPrefixWords = 2

// AllocateBytecode turns raw instruction bytes into a bytecode object.
//
// The constants vector must already be the top of the value stack, so it
// stays rooted across the allocation. The popped constants reference is
// written after the code region and the new tagged bytecode reference is
// pushed in its place.
//
// The allocation may trigger a collection: no raw pointer derived from any
// Value may be held across this call.
func AllocateBytecode(h *Heap, code []byte) (Value, error) {
	if h.Depth() == 0 {
		return Nil, errors.New("allocate-bytecode: constants vector must be rooted on the value stack")
	}
	codeWords := (len(code) + WordSize - 1) / WordSize
	words := bcoPrefixWords + codeWords + 1

	off, err := h.AllocRaw(words, HeaderBytecode)
	if err != nil {
		return Nil, err
	}
	constants := h.Pop()

	h.setWord(off+WordSize, uint64(len(code)))
	base := off + bcoPrefixWords*WordSize
	for i := 0; i < codeWords; i++ {
		var w uint64
		for j := 0; j < WordSize; j++ {
			k := i*WordSize + j
			if k < len(code) {
				w |= uint64(code[k]) << (8 * j)
			}
		}
		h.setWord(base+uint64(i)*WordSize, w)
	}
	h.setWord(off+uint64(words-1)*WordSize, uint64(constants))

	bco := fromHeap(off, TagFunction)
	h.Push(bco)
	return bco, nil
}

// bcoHeader fetches and checks the header of a bytecode object value.
func (h *Heap) bcoHeader(op string, v Value) (uint64, error) {
	if v.Tag() != TagFunction {
		return 0, &WrongTypeError{Op: op, Want: TagFunction, Got: v.Tag()}
	}
	header := h.word(v.heapOffset())
	if headerTag(header) != HeaderBytecode {
		return 0, &WrongTypeError{Op: op, Want: TagFunction, Got: v.Tag()}
	}
	return header, nil
}

// BytecodeLength returns the recorded code length in bytes.
func (h *Heap) BytecodeLength(v Value) (int, error) {
	if _, err := h.bcoHeader("bytecode-length", v); err != nil {
		return 0, err
	}
	return int(h.word(v.heapOffset() + WordSize)), nil
}

// BytecodeBytes returns a copy of the stored code bytes.
func (h *Heap) BytecodeBytes(v Value) ([]byte, error) {
	length, err := h.BytecodeLength(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	base := v.heapOffset() + bcoPrefixWords*WordSize
	for k := 0; k < length; k++ {
		w := h.word(base + uint64(k/WordSize)*WordSize)
		out[k] = byte(w >> (8 * (k % WordSize)))
	}
	return out, nil
}

// InstructionCount returns the number of whole instructions stored.
func (h *Heap) InstructionCount(v Value) (int, error) {
	length, err := h.BytecodeLength(v)
	if err != nil {
		return 0, err
	}
	return length / InstructionSize, nil
}

// InstructionAt decodes the instruction at index i.
func (h *Heap) InstructionAt(v Value, i int) (Instruction, error) {
	count, err := h.InstructionCount(v)
	if err != nil {
		return Instruction{}, err
	}
	if i < 0 || i >= count {
		return Instruction{}, &IndexOutOfRangeError{Op: "instruction-at", Index: i, Length: count}
	}
	base := v.heapOffset() + bcoPrefixWords*WordSize
	var b [InstructionSize]byte
	for j := 0; j < InstructionSize; j++ {
		k := i*InstructionSize + j
		w := h.word(base + uint64(k/WordSize)*WordSize)
		b[j] = byte(w >> (8 * (k % WordSize)))
	}
	return Instruction{Opcode: Opcode(b[0]), Src: b[1], Src2: b[2], Dst: b[3]}, nil
}

// constantsWordOffset locates the word following the padded code region.
func (h *Heap) constantsWordOffset(v Value) uint64 {
	header := h.word(v.heapOffset())
	words := headerPayload(header)
	return v.heapOffset() + (words-1)*WordSize
}

// ConstantsVector returns the constants-vector reference stored after the
// code region.
func (h *Heap) ConstantsVector(v Value) (Value, error) {
	if _, err := h.bcoHeader("constants-vector", v); err != nil {
		return Nil, err
	}
	return Value(h.word(h.constantsWordOffset(v))), nil
}
