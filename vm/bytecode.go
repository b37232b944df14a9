package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
//
// The instruction set has no branch or jump opcode; the verifier's linear
// pass depends on that.
type Opcode byte

const (
	// OpCons consumes the car at stack depth src and the cdr at depth
	// src2, pops dst words (0, 1, or 2: however many of the consumed
	// operands live on top of the stack), and pushes a fresh pair.
	OpCons Opcode = iota

	// OpCar pushes the car of the pair at stack depth src.
	OpCar

	// OpCdr pushes the cdr of the pair at stack depth src.
	OpCdr

	// OpSetCar mutates the pair at depth src2 with the value at depth src.
	OpSetCar

	// OpSetCdr mutates the pair at depth src2 with the value at depth src.
	OpSetCdr

	// OpIsPair pushes a boolean for the pair-ness of the value at depth src.
	OpIsPair

	// Arithmetic: pop two operands, push the result. Fast path when both
	// are fixnums, otherwise the generic numeric path.
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpPower

	// OpMakeArray pops dst elements and pushes a fresh vector of them.
	OpMakeArray

	// OpSetArray stores the value at depth src into the vector at depth
	// dst at the index (a fixnum) at depth src2.
	OpSetArray

	// OpGetArray pushes the element of the vector at depth src at the
	// index at depth src2.
	OpGetArray

	// OpIsArray pushes a boolean for the vector-ness of the value at
	// depth src.
	OpIsArray

	// OpArrayLen pushes the length of the vector at depth src.
	OpArrayLen

	// OpCall invokes the function value at depth dst with the dst values
	// above it as arguments; pops function and arguments, pushes the
	// result.
	OpCall

	// OpTailCall is OpCall transferring control without growing the
	// control stack.
	OpTailCall

	// OpReturn returns the top of the current frame to the caller.
	OpReturn

	// OpClosure pops dst captured values and builds a closure over the
	// bytecode object at depth src.
	OpClosure

	// OpSet overwrites the stack slot at depth dst with the value at
	// depth src.
	OpSet

	// OpLoadConstant pushes constants-vector slot src.
	OpLoadConstant

	// OpLoadEnvironment pushes captured-environment slot src.
	OpLoadEnvironment

	// OpLoadArgument pushes argument src.
	OpLoadArgument

	// OpLoadGlobal pushes the global bound to the symbol in
	// constants-vector slot src.
	OpLoadGlobal

	// Fixed immediates.
	OpLoadFalse
	OpLoadTrue
	OpLoadNil

	// OpStoreEnvironment copies the value at depth src into
	// captured-environment slot dst.
	OpStoreEnvironment

	// OpStoreArgument copies the value at depth src into argument slot dst.
	OpStoreArgument

	// OpStoreGlobal binds the global named by the symbol in
	// constants-vector slot dst to the value at depth src.
	OpStoreGlobal

	opcodeCount
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandClass says how an instruction field is interpreted. A field is
// never reused with two different meanings within one opcode.
type OperandClass uint8

const (
	OperandNone  OperandClass = iota
	OperandStack              // stack-relative depth, 0 = top of frame
	OperandArg                // argument index
	OperandEnv                // captured-environment index
	OperandConst              // constants-vector index (checked at run time)
	OperandCount              // small immediate count
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name string
	Src  OperandClass
	Src2 OperandClass
	Dst  OperandClass
}

var opcodeTable = [opcodeCount]OpcodeInfo{
	OpCons:             {"CONS", OperandStack, OperandStack, OperandCount},
	OpCar:              {"CAR", OperandStack, OperandNone, OperandNone},
	OpCdr:              {"CDR", OperandStack, OperandNone, OperandNone},
	OpSetCar:           {"SET_CAR", OperandStack, OperandStack, OperandNone},
	OpSetCdr:           {"SET_CDR", OperandStack, OperandStack, OperandNone},
	OpIsPair:           {"IS_PAIR", OperandStack, OperandNone, OperandNone},
	OpAdd:              {"ADD", OperandNone, OperandNone, OperandNone},
	OpSubtract:         {"SUBTRACT", OperandNone, OperandNone, OperandNone},
	OpMultiply:         {"MULTIPLY", OperandNone, OperandNone, OperandNone},
	OpDivide:           {"DIVIDE", OperandNone, OperandNone, OperandNone},
	OpPower:            {"POWER", OperandNone, OperandNone, OperandNone},
	OpMakeArray:        {"MAKE_ARRAY", OperandNone, OperandNone, OperandCount},
	OpSetArray:         {"SET_ARRAY", OperandStack, OperandStack, OperandStack},
	OpGetArray:         {"GET_ARRAY", OperandStack, OperandStack, OperandNone},
	OpIsArray:          {"IS_ARRAY", OperandStack, OperandNone, OperandNone},
	OpArrayLen:         {"ARRAY_LEN", OperandStack, OperandNone, OperandNone},
	OpCall:             {"CALL", OperandNone, OperandNone, OperandCount},
	OpTailCall:         {"TAIL_CALL", OperandNone, OperandNone, OperandCount},
	OpReturn:           {"RETURN", OperandNone, OperandNone, OperandNone},
	OpClosure:          {"CLOSURE", OperandStack, OperandNone, OperandCount},
	OpSet:              {"SET", OperandStack, OperandNone, OperandStack},
	OpLoadConstant:     {"LOAD_CONSTANT", OperandConst, OperandNone, OperandNone},
	OpLoadEnvironment:  {"LOAD_ENVIRONMENT", OperandEnv, OperandNone, OperandNone},
	OpLoadArgument:     {"LOAD_ARGUMENT", OperandArg, OperandNone, OperandNone},
	OpLoadGlobal:       {"LOAD_GLOBAL", OperandConst, OperandNone, OperandNone},
	OpLoadFalse:        {"LOAD_FALSE", OperandNone, OperandNone, OperandNone},
	OpLoadTrue:         {"LOAD_TRUE", OperandNone, OperandNone, OperandNone},
	OpLoadNil:          {"LOAD_NIL", OperandNone, OperandNone, OperandNone},
	OpStoreEnvironment: {"STORE_ENVIRONMENT", OperandStack, OperandNone, OperandEnv},
	OpStoreArgument:    {"STORE_ARGUMENT", OperandStack, OperandNone, OperandArg},
	OpStoreGlobal:      {"STORE_GLOBAL", OperandStack, OperandNone, OperandConst},
}

// Valid reports whether op is in the instruction set.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op.Valid() {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// InstructionSize is the fixed width of an encoded instruction in bytes.
const InstructionSize = 4

// Instruction is one fixed-width instruction: an opcode byte and three
// operand bytes whose meaning is opcode-dependent.
type Instruction struct {
	Opcode Opcode
	Src    uint8
	Src2   uint8
	Dst    uint8
}

// Encode appends the instruction's 4-byte encoding to buf.
func (in Instruction) Encode(buf []byte) []byte {
	return append(buf, byte(in.Opcode), in.Src, in.Src2, in.Dst)
}

// EncodeInstructions encodes a sequence into its byte stream.
func EncodeInstructions(code []Instruction) []byte {
	buf := make([]byte, 0, len(code)*InstructionSize)
	for _, in := range code {
		buf = in.Encode(buf)
	}
	return buf
}

// DecodeInstructions decodes a byte stream into instructions. The length
// must be a whole number of instructions.
func DecodeInstructions(data []byte) ([]Instruction, error) {
	if len(data)%InstructionSize != 0 {
		return nil, &TruncatedCodeError{Length: len(data)}
	}
	code := make([]Instruction, len(data)/InstructionSize)
	for i := range code {
		b := data[i*InstructionSize:]
		code[i] = Instruction{Opcode: Opcode(b[0]), Src: b[1], Src2: b[2], Dst: b[3]}
	}
	return code, nil
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

// Builder helps construct instruction sequences.
type Builder struct {
	code []Instruction
}

// NewBuilder creates a new instruction builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]Instruction, 0, 16)}
}

// Code returns the constructed sequence.
func (b *Builder) Code() []Instruction {
	return b.code
}

// Bytes returns the constructed sequence's byte encoding.
func (b *Builder) Bytes() []byte {
	return EncodeInstructions(b.code)
}

// Len returns the number of instructions so far.
func (b *Builder) Len() int {
	return len(b.code)
}

// Emit appends an instruction with all three operand fields.
func (b *Builder) Emit(op Opcode, src, src2, dst uint8) *Builder {
	b.code = append(b.code, Instruction{Opcode: op, Src: src, Src2: src2, Dst: dst})
	return b
}

// Emit0 appends an instruction with no operands.
func (b *Builder) Emit0(op Opcode) *Builder {
	return b.Emit(op, 0, 0, 0)
}

// EmitSrc appends an instruction using only the src field.
func (b *Builder) EmitSrc(op Opcode, src uint8) *Builder {
	return b.Emit(op, src, 0, 0)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

var operandFieldNames = [...]string{
	OperandStack: "stack",
	OperandArg:   "arg",
	OperandEnv:   "env",
	OperandConst: "const",
	OperandCount: "n",
}

func appendOperand(parts []string, class OperandClass, v uint8) []string {
	if class == OperandNone {
		return parts
	}
	return append(parts, fmt.Sprintf("%s=%d", operandFieldNames[class], v))
}

// DisassembleInstruction renders one instruction at position pos.
func DisassembleInstruction(pos int, in Instruction) string {
	info := in.Opcode.Info()
	parts := make([]string, 0, 3)
	parts = appendOperand(parts, info.Src, in.Src)
	parts = appendOperand(parts, info.Src2, in.Src2)
	parts = appendOperand(parts, info.Dst, in.Dst)
	if len(parts) == 0 {
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
	return fmt.Sprintf("%04d  %s %s", pos, info.Name, strings.Join(parts, " "))
}

// Disassemble returns a full disassembly of an instruction sequence.
func Disassemble(code []Instruction) string {
	lines := make([]string, len(code))
	for i, in := range code {
		lines[i] = DisassembleInstruction(i, in)
	}
	return strings.Join(lines, "\n")
}
