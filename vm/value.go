package vm

// Value represents a Scheme value as a single tagged machine word.
//
// The low 3 bits select the kind; the remaining bits hold either an
// immediate payload or a heap byte offset. Heap objects are allocated at
// 8-byte alignment, which is exactly what frees the low 3 bits for the tag.
//
// Encoding scheme:
//
//	| Tag   | Kind                                              |
//	|-------|---------------------------------------------------|
//	| 0b000 | Fixnum (even payload)                             |
//	| 0b001 | Native (Go-implemented) function, registry ID     |
//	| 0b010 | Interpreted function: heap offset of a BCO        |
//	| 0b011 | Vector-family heap object (vector/record/closure) |
//	| 0b100 | Fixnum (odd payload) or non-fixnum immediate      |
//	| 0b101 | Native data wrapper, registry ID                  |
//	| 0b110 | Symbol, interning-table ID                        |
//	| 0b111 | Pair heap object                                  |
//
// Fixnums are encoded as the integer shifted left by 2, so both 0b000 and
// 0b100 are fixnum tags (bit 2 is the integer's low bit). The 0b100 pattern
// also carries the non-fixnum immediates (empty list, end-of-file, the
// undefined value, booleans, characters); those are kept distinguishable
// from fixnums by a top-bit pattern no in-range fixnum can produce.
//
// A Value whose tag addresses a heap object is valid only while it is held
// in a GC root (the value stack or a handle). Any collection invalidates
// every other copy.
type Value uint64

// Tag is the 3-bit kind discriminator of a Value.
type Tag uint8

// The eight tag patterns. The numeric values are load-bearing: tag bits are
// compared and masked directly in the predicates below.
const (
	TagFixnum     Tag = 0 // immediate integer, even payload
	TagNativeFunc Tag = 1 // Go-implemented function
	TagFunction   Tag = 2 // interpreted function (bytecode object)
	TagVector     Tag = 3 // vector, record, or closure
	TagImmediate  Tag = 4 // odd fixnum or non-fixnum immediate
	TagNativeData Tag = 5 // Go value on the Scheme heap
	TagSymbol     Tag = 6 // interned symbol
	TagPair       Tag = 7 // pair
)

var tagNames = [8]string{
	"fixnum", "native-function", "function", "vector",
	"immediate", "native-data", "symbol", "pair",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "invalid-tag"
}

// Kind is the result of full kind dispatch: unlike Tag it separates fixnums
// from the non-fixnum immediates sharing the 0b100 pattern.
type Kind uint8

const (
	KindFixnum Kind = iota
	KindImmediate
	KindNativeFunc
	KindFunction
	KindVector
	KindNativeData
	KindSymbol
	KindPair
)

// ---------------------------------------------------------------------------
// Fixnum encoding
// ---------------------------------------------------------------------------

// Fixnums hold a 60-bit signed payload encoded as n << 2. The top three
// bits of a valid fixnum word are therefore always sign-equal (all zero or
// all one), which is what keeps the immediate constants (top bits 0b010)
// out of the fixnum value space.
const (
	MaxFixnum int64 = 1<<59 - 1
	MinFixnum int64 = -(1 << 59)
)

// FromFixnum creates a fixnum Value.
// Panics if n is outside the fixnum range.
func FromFixnum(n int64) Value {
	if n > MaxFixnum || n < MinFixnum {
		panic("FromFixnum: value out of range")
	}
	return Value(uint64(n) << 2)
}

// TryFromFixnum creates a fixnum Value, returning false if out of range.
func TryFromFixnum(n int64) (Value, bool) {
	if n > MaxFixnum || n < MinFixnum {
		return Nil, false
	}
	return Value(uint64(n) << 2), true
}

// AsFixnum decodes the integer payload of a fixnum value.
func (v Value) AsFixnum() (int64, error) {
	if !v.Fixnump() || v.immediatep() {
		return 0, &NotANumberError{Op: "as-fixnum", Got: v.Tag()}
	}
	return int64(v) >> 2, nil
}

// ---------------------------------------------------------------------------
// Immediate constants
// ---------------------------------------------------------------------------

// Non-fixnum immediates carry 0b010 in the top three bits and 0b100 in the
// low three. The code field selects the constant; characters add their rune
// in bits 16..47.
const (
	immMark    uint64 = 0b010 << 61
	immTopMask uint64 = 0b111 << 61
	immCodeOff        = 3
	immCharOff        = 16
)

// ImmediateCode identifies a non-fixnum immediate constant.
type ImmediateCode uint8

const (
	ImmEmptyList ImmediateCode = iota
	ImmEof
	ImmUndefined
	ImmFalse
	ImmTrue
	ImmChar
)

func immediate(code ImmediateCode, payload uint32) Value {
	return Value(immMark | uint64(payload)<<immCharOff | uint64(code)<<immCodeOff | uint64(TagImmediate))
}

// The fixed immediate constants.
var (
	Nil       = immediate(ImmEmptyList, 0)
	Eof       = immediate(ImmEof, 0)
	Undefined = immediate(ImmUndefined, 0)
	False     = immediate(ImmFalse, 0)
	True      = immediate(ImmTrue, 0)
)

// immediatep reports whether v is a non-fixnum immediate constant.
func (v Value) immediatep() bool {
	return uint64(v)&immTopMask == immMark && v.RawTag() == uint64(TagImmediate)
}

// Code returns the immediate code of a non-fixnum immediate, or false for
// every other value.
func (v Value) Code() (ImmediateCode, bool) {
	if !v.immediatep() {
		return 0, false
	}
	return ImmediateCode(uint64(v) >> immCodeOff & 0xFF), true
}

// FromChar creates a character immediate.
func FromChar(r rune) Value {
	return immediate(ImmChar, uint32(r))
}

// CharValue returns the rune of a character immediate, or false for every
// other value.
func (v Value) CharValue() (rune, bool) {
	if code, ok := v.Code(); !ok || code != ImmChar {
		return 0, false
	}
	return rune(uint32(uint64(v) >> immCharOff)), true
}

// FromBool returns True or False.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Truthy reports whether v counts as true in a conditional. Scheme treats
// everything except #f as true.
func (v Value) Truthy() bool {
	return v != False
}

// ---------------------------------------------------------------------------
// Registry-backed kinds (symbols, native functions, native data)
// ---------------------------------------------------------------------------

// FromSymbolID creates a symbol value from an interning-table ID.
func FromSymbolID(id uint32) Value {
	return Value(uint64(id)<<3 | uint64(TagSymbol))
}

// SymbolID returns the interning-table ID of a symbol value.
// Panics if v is not a symbol.
func (v Value) SymbolID() uint32 {
	if v.Tag() != TagSymbol {
		panic("Value.SymbolID: not a symbol")
	}
	return uint32(uint64(v) >> 3)
}

// FromNativeFuncID creates a native-function value from a registry ID.
func FromNativeFuncID(id uint32) Value {
	return Value(uint64(id)<<3 | uint64(TagNativeFunc))
}

// NativeFuncID returns the registry ID of a native-function value.
// Panics if v is not a native function.
func (v Value) NativeFuncID() uint32 {
	if v.Tag() != TagNativeFunc {
		panic("Value.NativeFuncID: not a native function")
	}
	return uint32(uint64(v) >> 3)
}

// FromNativeDataID creates a native-data value from a registry ID.
func FromNativeDataID(id uint32) Value {
	return Value(uint64(id)<<3 | uint64(TagNativeData))
}

// NativeDataID returns the registry ID of a native-data value.
// Panics if v is not native data.
func (v Value) NativeDataID() uint32 {
	if v.Tag() != TagNativeData {
		panic("Value.NativeDataID: not native data")
	}
	return uint32(uint64(v) >> 3)
}

// ---------------------------------------------------------------------------
// Heap-pointer kinds
// ---------------------------------------------------------------------------

// fromHeap tags a heap byte offset. The offset is a nonzero multiple of 8.
func fromHeap(offset uint64, tag Tag) Value {
	return Value(offset | uint64(tag))
}

// heapOffset strips the tag bits, leaving the heap byte offset.
func (v Value) heapOffset() uint64 {
	return uint64(v) &^ 0b111
}

// heapp reports whether v's tag addresses a managed heap object.
// Symbols and the native registries are heap-independent IDs.
func (v Value) heapp() bool {
	switch v.Tag() {
	case TagPair, TagVector, TagFunction:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// RawTag returns the bottom 3 bits. Total, never fails.
func (v Value) RawTag() uint64 {
	return uint64(v) & 0b111
}

// Tag maps the 3-bit pattern to its symbolic kind. All 8 patterns are
// assigned, so there is no error path.
func (v Value) Tag() Tag {
	return Tag(v & 0b111)
}

// Kind performs full kind dispatch, separating fixnums from the non-fixnum
// immediates that share the 0b100 tag pattern.
func (v Value) Kind() Kind {
	switch v.Tag() {
	case TagFixnum:
		return KindFixnum
	case TagNativeFunc:
		return KindNativeFunc
	case TagFunction:
		return KindFunction
	case TagVector:
		return KindVector
	case TagImmediate:
		if v.immediatep() {
			return KindImmediate
		}
		return KindFixnum
	case TagNativeData:
		return KindNativeData
	case TagSymbol:
		return KindSymbol
	default:
		return KindPair
	}
}

// Leafp reports whether v cannot contain further Value references. The
// collector skips tracing leaf values; pairs and vector-family objects
// (tag patterns 0b011 and 0b111) are the only non-leaf kinds.
func (v Value) Leafp() bool {
	return uint64(v)&0b11 != 0b11
}

// Fixnump reports whether v carries a fixnum tag. Both fixnum tag patterns
// (0b000 and 0b100) satisfy this; note that the non-fixnum immediates share
// the 0b100 pattern and also pass; use Kind or AsFixnum to separate them.
func (v Value) Fixnump() bool {
	return uint64(v)&0b11 == 0
}

// BothFixnums reports whether v and other both carry fixnum tags, as a
// single-comparison fast-path guard before arithmetic dispatch.
func (v Value) BothFixnums(other Value) bool {
	return (uint64(v)|uint64(other))&0b11 == 0
}

// SelfEvaluating reports whether v evaluates to itself without further
// reduction: true for every tag ordered below symbol.
func (v Value) SelfEvaluating() bool {
	return v.RawTag() < uint64(TagSymbol)
}

// Pairp reports whether v is a pair.
func (v Value) Pairp() bool {
	return v.Tag() == TagPair
}

// Eq reports identity: word equality, which is pointer identity for heap
// objects and value identity for immediates.
func (v Value) Eq(other Value) bool {
	return v == other
}
