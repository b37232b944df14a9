package vm

import (
	"bytes"
	"testing"
)

// ---------------------------------------------------------------------------
// Bytecode object tests
// ---------------------------------------------------------------------------

// pushConstants builds a constants vector and roots it on the value stack,
// as AllocateBytecode requires.
func pushConstants(t *testing.T, h *Heap, elems ...Value) Value {
	t.Helper()
	cv, err := h.MakeVector(elems...)
	if err != nil {
		t.Fatal(err)
	}
	h.Push(cv)
	return cv
}

func TestAllocateBytecodeRoundTrip(t *testing.T) {
	// Lengths straddling every padding boundary of the word-packed region.
	for k := 0; k <= 9; k++ {
		h := NewHeap(64)
		code := make([]byte, k)
		for i := range code {
			code[i] = byte(0xA0 + i)
		}
		pushConstants(t, h)

		bco, err := AllocateBytecode(h, code)
		if err != nil {
			t.Fatalf("K=%d: %v", k, err)
		}
		if bco.Tag() != TagFunction {
			t.Fatalf("K=%d: tag = %v", k, bco.Tag())
		}

		length, err := h.BytecodeLength(bco)
		if err != nil {
			t.Fatal(err)
		}
		if length != k {
			t.Errorf("K=%d: recorded length = %d", k, length)
		}
		stored, err := h.BytecodeBytes(bco)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(stored, code) {
			t.Errorf("K=%d: stored bytes %x, want %x", k, stored, code)
		}
	}
}

func TestAllocateBytecodeReplacesStackTop(t *testing.T) {
	h := NewHeap(64)
	cv := pushConstants(t, h, FromFixnum(42))
	depth := h.Depth()

	bco, err := AllocateBytecode(h, []byte{byte(OpLoadNil), 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if h.Depth() != depth {
		t.Fatalf("stack depth = %d, want %d", h.Depth(), depth)
	}
	if !h.Top().Eq(bco) {
		t.Error("top of stack is not the new bytecode reference")
	}
	if h.Top().Eq(cv) {
		t.Error("constants vector still on top")
	}

	got, err := h.ConstantsVector(bco)
	if err != nil {
		t.Fatal(err)
	}
	elem, err := h.ArrayGet(got, 0)
	if err != nil {
		t.Fatal(err)
	}
	if elem != FromFixnum(42) {
		t.Error("constants vector content lost")
	}
}

func TestAllocateBytecodeNeedsRootedConstants(t *testing.T) {
	h := NewHeap(64)
	if _, err := AllocateBytecode(h, nil); err == nil {
		t.Fatal("empty value stack should be rejected")
	}
}

func TestInstructionAccessors(t *testing.T) {
	h := NewHeap(64)
	code := NewBuilder().
		Emit0(OpLoadTrue).
		Emit(OpCons, 1, 0, 2).
		Bytes()
	pushConstants(t, h)
	bco, err := AllocateBytecode(h, code)
	if err != nil {
		t.Fatal(err)
	}

	count, err := h.InstructionCount(bco)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("InstructionCount = %d", count)
	}
	in, err := h.InstructionAt(bco, 1)
	if err != nil {
		t.Fatal(err)
	}
	if in.Opcode != OpCons || in.Src != 1 || in.Src2 != 0 || in.Dst != 2 {
		t.Errorf("instruction 1 = %+v", in)
	}
	if _, err := h.InstructionAt(bco, 2); err == nil {
		t.Error("InstructionAt past the end should fail")
	}
}

func TestBytecodeAccessorsRejectNonBytecode(t *testing.T) {
	h := NewHeap(64)
	vec, err := h.MakeVector()
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []Value{vec, FromFixnum(0), Nil} {
		if _, err := h.BytecodeLength(v); err == nil {
			t.Errorf("BytecodeLength(%#x) should fail", uint64(v))
		}
		if _, err := h.ConstantsVector(v); err == nil {
			t.Errorf("ConstantsVector(%#x) should fail", uint64(v))
		}
	}
}

func TestBytecodeSurvivesCollection(t *testing.T) {
	h := NewHeap(64)
	code := NewBuilder().Emit0(OpLoadTrue).Emit0(OpReturn).Bytes()
	pushConstants(t, h, FromFixnum(7))
	bco, err := AllocateBytecode(h, code)
	if err != nil {
		t.Fatal(err)
	}

	h.Collect()
	bco = h.Top()

	stored, err := h.BytecodeBytes(bco)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, code) {
		t.Error("code bytes corrupted by collection")
	}
	cv, err := h.ConstantsVector(bco)
	if err != nil {
		t.Fatal(err)
	}
	elem, err := h.ArrayGet(cv, 0)
	if err != nil {
		t.Fatal(err)
	}
	if elem != FromFixnum(7) {
		t.Error("constants reference not retraced")
	}
}
