package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Pair tests
// ---------------------------------------------------------------------------

func TestPairAccessors(t *testing.T) {
	h := NewHeap(64)
	pair, err := h.Cons(FromFixnum(1), FromFixnum(2))
	if err != nil {
		t.Fatal(err)
	}
	if !pair.Pairp() {
		t.Fatal("Cons result is not a pair")
	}

	car, err := h.Car(pair)
	if err != nil {
		t.Fatal(err)
	}
	cdr, err := h.Cdr(pair)
	if err != nil {
		t.Fatal(err)
	}
	if car != FromFixnum(1) || cdr != FromFixnum(2) {
		t.Errorf("pair = (%d-word . %d-word)", uint64(car), uint64(cdr))
	}

	if err := h.SetCar(pair, FromFixnum(3)); err != nil {
		t.Fatal(err)
	}
	car, _ = h.Car(pair)
	cdr, _ = h.Cdr(pair)
	if car != FromFixnum(3) {
		t.Error("set-car! did not take")
	}
	if cdr != FromFixnum(2) {
		t.Error("set-car! disturbed the cdr")
	}

	if err := h.SetCdr(pair, Nil); err != nil {
		t.Fatal(err)
	}
	cdr, _ = h.Cdr(pair)
	if cdr != Nil {
		t.Error("set-cdr! did not take")
	}
}

func TestPairOpsRejectNonPairs(t *testing.T) {
	h := NewHeap(64)
	for _, v := range []Value{FromFixnum(7), Nil, True, FromSymbolID(0)} {
		if _, err := h.Car(v); !errors.Is(err, ErrWrongType) {
			t.Errorf("Car(%#x): %v, want ErrWrongType", uint64(v), err)
		}
		if _, err := h.Cdr(v); !errors.Is(err, ErrWrongType) {
			t.Errorf("Cdr(%#x): %v, want ErrWrongType", uint64(v), err)
		}
		if err := h.SetCar(v, Nil); !errors.Is(err, ErrWrongType) {
			t.Errorf("SetCar(%#x): %v, want ErrWrongType", uint64(v), err)
		}
		if err := h.SetCdr(v, Nil); !errors.Is(err, ErrWrongType) {
			t.Errorf("SetCdr(%#x): %v, want ErrWrongType", uint64(v), err)
		}
	}
}

func TestSharedPairMutation(t *testing.T) {
	h := NewHeap(64)
	pair, err := h.Cons(Nil, Nil)
	if err != nil {
		t.Fatal(err)
	}
	alias := pair
	if err := h.SetCar(pair, True); err != nil {
		t.Fatal(err)
	}
	car, err := h.Car(alias)
	if err != nil {
		t.Fatal(err)
	}
	if car != True {
		t.Error("alias did not observe mutation")
	}
}

func TestCyclicPair(t *testing.T) {
	h := NewHeap(64)
	pair, err := h.Cons(Nil, Nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetCdr(pair, pair); err != nil {
		t.Fatal(err)
	}
	h.Push(pair)
	h.Collect()
	pair = h.Pop()
	cdr, err := h.Cdr(pair)
	if err != nil {
		t.Fatal(err)
	}
	if !cdr.Eq(pair) {
		t.Error("cycle broken by collection")
	}
}

// ---------------------------------------------------------------------------
// Vector-family tests
// ---------------------------------------------------------------------------

func TestVectorBounds(t *testing.T) {
	h := NewHeap(64)
	const L = 4
	vec, err := h.MakeVector(FromFixnum(0), FromFixnum(1), FromFixnum(2), FromFixnum(3))
	if err != nil {
		t.Fatal(err)
	}

	length, err := h.ArrayLength(vec)
	if err != nil {
		t.Fatal(err)
	}
	if length != L {
		t.Fatalf("ArrayLength = %d, want %d", length, L)
	}

	// Every index in [0, L) succeeds and round-trips.
	for i := 0; i < L; i++ {
		if err := h.ArraySet(vec, i, FromFixnum(int64(10+i))); err != nil {
			t.Fatalf("ArraySet(%d): %v", i, err)
		}
		got, err := h.ArrayGet(vec, i)
		if err != nil {
			t.Fatalf("ArrayGet(%d): %v", i, err)
		}
		if got != FromFixnum(int64(10 + i)) {
			t.Errorf("slot %d = %#x", i, uint64(got))
		}
	}

	// Index L and beyond fail, in both directions.
	for _, i := range []int{L, L + 1, L + 100, -1} {
		if _, err := h.ArrayGet(vec, i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("ArrayGet(%d): %v, want ErrIndexOutOfRange", i, err)
		}
		if err := h.ArraySet(vec, i, Nil); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("ArraySet(%d): %v, want ErrIndexOutOfRange", i, err)
		}
	}

	var oor *IndexOutOfRangeError
	_, err = h.ArrayGet(vec, L)
	if !errors.As(err, &oor) || oor.Index != L || oor.Length != L {
		t.Errorf("ArrayGet(L) error = %v, want index %d length %d", err, L, L)
	}
}

func TestEmptyVector(t *testing.T) {
	h := NewHeap(64)
	vec, err := h.MakeVector()
	if err != nil {
		t.Fatal(err)
	}
	length, err := h.ArrayLength(vec)
	if err != nil {
		t.Fatal(err)
	}
	if length != 0 {
		t.Errorf("length = %d", length)
	}
	if _, err := h.ArrayGet(vec, 0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("ArrayGet(0) on empty vector: %v", err)
	}
}

func TestArrayOpsRejectNonVectors(t *testing.T) {
	h := NewHeap(64)
	pair, err := h.Cons(Nil, Nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []Value{FromFixnum(7), Nil, pair} {
		if _, err := h.ArrayGet(v, 0); !errors.Is(err, ErrWrongType) {
			t.Errorf("ArrayGet(%#x): %v, want ErrWrongType", uint64(v), err)
		}
		if err := h.ArraySet(v, 0, Nil); !errors.Is(err, ErrWrongType) {
			t.Errorf("ArraySet(%#x): %v, want ErrWrongType", uint64(v), err)
		}
		if _, err := h.ArrayLength(v); !errors.Is(err, ErrWrongType) {
			t.Errorf("ArrayLength(%#x): %v, want ErrWrongType", uint64(v), err)
		}
	}
}

// ---------------------------------------------------------------------------
// Records and closures
// ---------------------------------------------------------------------------

func TestRecordSlotZeroIsDescriptor(t *testing.T) {
	h := NewHeap(64)
	desc := h.NewRecordDescriptor()
	rec, err := h.MakeRecord(desc, FromFixnum(1), FromFixnum(2))
	if err != nil {
		t.Fatal(err)
	}

	sub, err := h.VectorSubKind(rec)
	if err != nil {
		t.Fatal(err)
	}
	if sub != HeaderRecord {
		t.Fatalf("sub-kind = %v", sub)
	}

	// Bounds do not special-case the descriptor slot: it counts like any
	// other slot and is addressable.
	length, _ := h.ArrayLength(rec)
	if length != 3 {
		t.Fatalf("record length = %d, want 3", length)
	}
	got, err := h.ArrayGet(rec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != desc {
		t.Error("slot 0 is not the descriptor")
	}
	if h.IsVector(rec) {
		t.Error("a record must not satisfy IsVector")
	}
}

func TestRecordDescriptorsDistinct(t *testing.T) {
	h := NewHeap(64)
	a := h.NewRecordDescriptor()
	b := h.NewRecordDescriptor()
	if a.Eq(b) {
		t.Error("descriptors not distinct")
	}
	// Descriptors are fixnum-tagged leaves so the collector skips them.
	if !a.Leafp() || !a.Fixnump() {
		t.Error("descriptor is not a fixnum-tagged leaf")
	}
}

func TestClosureLayout(t *testing.T) {
	h := NewHeap(64)
	cv, err := h.MakeVector()
	if err != nil {
		t.Fatal(err)
	}
	h.Push(cv)
	bco, err := AllocateBytecode(h, nil)
	if err != nil {
		t.Fatal(err)
	}

	clo, err := h.MakeClosure(bco, FromFixnum(1), FromFixnum(2))
	if err != nil {
		t.Fatal(err)
	}
	sub, err := h.VectorSubKind(clo)
	if err != nil {
		t.Fatal(err)
	}
	if sub != HeaderClosure {
		t.Fatalf("sub-kind = %v", sub)
	}
	got, err := h.ClosureBytecode(clo)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Eq(bco) {
		t.Error("slot 0 is not the bytecode object")
	}
	if h.IsVector(clo) {
		t.Error("a closure must not satisfy IsVector")
	}

	if _, err := h.MakeClosure(FromFixnum(1)); !errors.Is(err, ErrWrongType) {
		t.Errorf("MakeClosure(fixnum): %v, want ErrWrongType", err)
	}
}
