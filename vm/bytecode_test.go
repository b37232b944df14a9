package vm

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Instruction codec tests
// ---------------------------------------------------------------------------

func TestInstructionCodecRoundTrip(t *testing.T) {
	code := []Instruction{
		{Opcode: OpLoadTrue},
		{Opcode: OpLoadArgument, Src: 3},
		{Opcode: OpCons, Src: 1, Src2: 0, Dst: 2},
		{Opcode: OpSetArray, Src: 2, Src2: 1, Dst: 0},
		{Opcode: OpCall, Dst: 255},
	}
	data := EncodeInstructions(code)
	if len(data) != len(code)*InstructionSize {
		t.Fatalf("encoded length = %d", len(data))
	}
	decoded, err := DecodeInstructions(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(code) {
		t.Fatalf("decoded %d instructions", len(decoded))
	}
	for i := range code {
		if decoded[i] != code[i] {
			t.Errorf("instruction %d = %+v, want %+v", i, decoded[i], code[i])
		}
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7} {
		_, err := DecodeInstructions(make([]byte, n))
		var tc *TruncatedCodeError
		if !errors.As(err, &tc) {
			t.Errorf("%d bytes: %v, want TruncatedCodeError", n, err)
			continue
		}
		if tc.Length != n {
			t.Errorf("reported length = %d, want %d", tc.Length, n)
		}
		if !errors.Is(err, ErrBadBytecode) {
			t.Errorf("%d bytes: does not unwrap to ErrBadBytecode", n)
		}
	}
}

func TestOpcodeValidity(t *testing.T) {
	for op := Opcode(0); op < opcodeCount; op++ {
		if !op.Valid() {
			t.Errorf("opcode %d should be valid", op)
		}
		if op.Name() == "" {
			t.Errorf("opcode %d has no name", op)
		}
	}
	if Opcode(opcodeCount).Valid() {
		t.Error("opcodeCount should not be a valid opcode")
	}
	if Opcode(0xFF).Valid() {
		t.Error("0xFF should not be a valid opcode")
	}
	if !strings.HasPrefix(Opcode(0xFF).Name(), "UNKNOWN_") {
		t.Errorf("invalid opcode name = %q", Opcode(0xFF).Name())
	}
}

func TestOperandFieldsSingleMeaning(t *testing.T) {
	// A field is never reused with two different meanings within one
	// opcode; within this encoding that means each field has exactly one
	// operand class, which the metadata table states directly. Sanity-check
	// the table covers every opcode.
	for op := Opcode(0); op < opcodeCount; op++ {
		if opcodeTable[op].Name == "" {
			t.Errorf("opcode %d missing from metadata table", op)
		}
	}
}

// ---------------------------------------------------------------------------
// Builder and disassembly
// ---------------------------------------------------------------------------

func TestBuilder(t *testing.T) {
	b := NewBuilder()
	b.Emit0(OpLoadTrue).
		Emit0(OpLoadNil).
		Emit(OpCons, 1, 0, 2)
	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}
	code := b.Code()
	if code[2].Opcode != OpCons || code[2].Src != 1 || code[2].Dst != 2 {
		t.Errorf("instruction 2 = %+v", code[2])
	}
	if len(b.Bytes()) != 3*InstructionSize {
		t.Errorf("Bytes length = %d", len(b.Bytes()))
	}
}

func TestDisassemble(t *testing.T) {
	code := NewBuilder().
		Emit0(OpLoadTrue).
		EmitSrc(OpLoadArgument, 1).
		Emit(OpCons, 1, 0, 2).
		Code()
	out := Disassemble(code)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("disassembly has %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "LOAD_TRUE") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "LOAD_ARGUMENT") || !strings.Contains(lines[1], "arg=1") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "CONS") || !strings.Contains(lines[2], "n=2") {
		t.Errorf("line 2 = %q", lines[2])
	}
}
