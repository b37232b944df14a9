package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Sentinel errors. Accessor and arithmetic errors are recoverable: the
// evaluator decides whether to surface them as a language-level condition.
// ErrBadBytecode is reported at verification time only; a code object that
// fails verification is never made executable.
var (
	ErrWrongType       = errors.New("wrong type")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNotANumber      = errors.New("not a number")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrBadBytecode     = errors.New("bad bytecode")
	ErrUnverified      = errors.New("bytecode object has not been verified")
	ErrUnboundGlobal   = errors.New("unbound global")
	ErrHeapExhausted   = errors.New("heap exhausted")
)

// WrongTypeError reports an accessor invoked on an incompatible value kind.
type WrongTypeError struct {
	Op   string
	Want Tag
	Got  Tag
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("%s: wrong type: want %s, got %s", e.Op, e.Want, e.Got)
}

func (e *WrongTypeError) Unwrap() error { return ErrWrongType }

// IndexOutOfRangeError reports a vector-family index at or beyond the
// object's recorded length.
type IndexOutOfRangeError struct {
	Op     string
	Index  int
	Length int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("%s: index %d out of range for length %d", e.Op, e.Index, e.Length)
}

func (e *IndexOutOfRangeError) Unwrap() error { return ErrIndexOutOfRange }

// NotANumberError reports a fixnum decode on a non-fixnum value.
type NotANumberError struct {
	Op  string
	Got Tag
}

func (e *NotANumberError) Error() string {
	return fmt.Sprintf("%s: not a number: %s", e.Op, e.Got)
}

func (e *NotANumberError) Unwrap() error { return ErrNotANumber }

// ---------------------------------------------------------------------------
// Verification errors
// ---------------------------------------------------------------------------

// StackUnderflowError reports an instruction that reads or pops deeper than
// the tracked operand-stack depth. Index is the 0-based position of the
// offending instruction.
type StackUnderflowError struct {
	Index int // instruction position
	Depth int // tracked depth at that instruction
	Min   int // minimum depth the instruction requires
}

func (e *StackUnderflowError) Error() string {
	return fmt.Sprintf("bytecode %d: stack underflow: depth %d, need %d", e.Index, e.Depth, e.Min)
}

func (e *StackUnderflowError) Unwrap() error { return ErrBadBytecode }

// ArgOutOfRangeError reports an argument-relative operand at or beyond the
// declared argument count.
type ArgOutOfRangeError struct {
	Index    int // instruction position
	Required int // argument count the operand requires
	Actual   int // declared argument count
}

func (e *ArgOutOfRangeError) Error() string {
	return fmt.Sprintf("bytecode %d: argument out of range: need %d arguments, have %d", e.Index, e.Required, e.Actual)
}

func (e *ArgOutOfRangeError) Unwrap() error { return ErrBadBytecode }

// EnvOutOfRangeError reports an environment-relative operand at or beyond
// the declared environment length.
type EnvOutOfRangeError struct {
	Index          int // instruction position
	RequiredLength int // environment length the operand requires
	ActualLength   int // declared environment length
}

func (e *EnvOutOfRangeError) Error() string {
	return fmt.Sprintf("bytecode %d: environment index out of range: need length %d, have %d", e.Index, e.RequiredLength, e.ActualLength)
}

func (e *EnvOutOfRangeError) Unwrap() error { return ErrBadBytecode }

// UnknownOpcodeError reports an opcode byte outside the instruction set.
type UnknownOpcodeError struct {
	Index  int
	Opcode Opcode
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("bytecode %d: unknown opcode 0x%02X", e.Index, byte(e.Opcode))
}

func (e *UnknownOpcodeError) Unwrap() error { return ErrBadBytecode }

// BadOperandError reports an operand field whose value the interpreter
// would not be able to trust.
type BadOperandError struct {
	Index  int
	Opcode Opcode
	Reason string
}

func (e *BadOperandError) Error() string {
	return fmt.Sprintf("bytecode %d: %s: %s", e.Index, e.Opcode, e.Reason)
}

func (e *BadOperandError) Unwrap() error { return ErrBadBytecode }

// TruncatedCodeError reports a code byte stream whose length is not a whole
// number of instructions.
type TruncatedCodeError struct {
	Length int
}

func (e *TruncatedCodeError) Error() string {
	return fmt.Sprintf("truncated bytecode: %d bytes is not a multiple of %d", e.Length, InstructionSize)
}

func (e *TruncatedCodeError) Unwrap() error { return ErrBadBytecode }

// ArityError reports a call whose actual argument count does not satisfy
// the callee's declared shape.
type ArityError struct {
	Want   int
	Vararg bool
	Got    int
}

func (e *ArityError) Error() string {
	if e.Vararg {
		return fmt.Sprintf("call: want at least %d arguments, got %d", e.Want, e.Got)
	}
	return fmt.Sprintf("call: want %d arguments, got %d", e.Want, e.Got)
}

// ---------------------------------------------------------------------------
// Run-time resource errors
// ---------------------------------------------------------------------------

// StackOverflowError reports control-stack exhaustion. Frame depth is
// data-dependent, so it cannot be bounded by the verifier.
type StackOverflowError struct {
	Frames int
}

func (e *StackOverflowError) Error() string {
	return fmt.Sprintf("control stack overflow: %d frames", e.Frames)
}

// HeapExhaustedError reports an allocation the collector could not satisfy
// even after a full collection. Fatal: no recovery path at this layer.
type HeapExhaustedError struct {
	Requested int // words requested
	Capacity  int // heap capacity in words
}

func (e *HeapExhaustedError) Error() string {
	return fmt.Sprintf("heap exhausted: %d words requested, capacity %d words", e.Requested, e.Capacity)
}

func (e *HeapExhaustedError) Unwrap() error { return ErrHeapExhausted }
