package vm

// ---------------------------------------------------------------------------
// Bytecode verification
// ---------------------------------------------------------------------------

// FrameShape is the declared call-frame shape a code object is verified
// against: its argument count, whether the last argument collects the rest
// of the actuals, and the length of the captured environment.
type FrameShape struct {
	ArgCount  int
	Vararg    bool
	EnvLength int
}

// Verify certifies an instruction sequence safe to execute without further
// bounds checks on its stack-, argument- and environment-relative operands.
//
// The pass is a single forward linear scan tracking one synthetic state,
// the operand-stack depth. That is sound because the instruction set has
// no branch opcode; extending the set with branches would require per-block
// depth reconciliation instead.
//
// On success Verify returns the maximum depth reached, for frame
// pre-allocation. On failure it returns the precise offending instruction
// index and the violated bound; the caller must reject the code object,
// never retry execution.
func Verify(code []Instruction, shape FrameShape) (int, error) {
	depth := 0
	maxDepth := 0

	// The checks mirror the interpreter's trust exactly: everything the
	// hot loop reads without a bounds check is proven here.
	checkStack := func(i int, d uint8) error {
		if int(d) >= depth {
			return &StackUnderflowError{Index: i, Depth: depth, Min: int(d) + 1}
		}
		return nil
	}
	checkPop := func(i, n int) error {
		if n > depth {
			return &StackUnderflowError{Index: i, Depth: depth, Min: n}
		}
		return nil
	}
	checkArg := func(i int, a uint8) error {
		if int(a) >= shape.ArgCount {
			return &ArgOutOfRangeError{Index: i, Required: int(a) + 1, Actual: shape.ArgCount}
		}
		return nil
	}
	checkEnv := func(i int, e uint8) error {
		if int(e) >= shape.EnvLength {
			return &EnvOutOfRangeError{Index: i, RequiredLength: int(e) + 1, ActualLength: shape.EnvLength}
		}
		return nil
	}
	push := func(n int) {
		depth += n
		if depth > maxDepth {
			maxDepth = depth
		}
	}

	for i, in := range code {
		if !in.Opcode.Valid() {
			return 0, &UnknownOpcodeError{Index: i, Opcode: in.Opcode}
		}

		switch in.Opcode {
		case OpCons:
			if in.Dst > 2 {
				return 0, &BadOperandError{Index: i, Opcode: in.Opcode, Reason: "pop count must be 0, 1, or 2"}
			}
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkStack(i, in.Src2); err != nil {
				return 0, err
			}
			if err := checkPop(i, int(in.Dst)); err != nil {
				return 0, err
			}
			depth -= int(in.Dst)
			push(1)

		case OpCar, OpCdr, OpIsPair, OpIsArray, OpArrayLen:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			push(1)

		case OpSetCar, OpSetCdr:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkStack(i, in.Src2); err != nil {
				return 0, err
			}

		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpPower:
			if err := checkPop(i, 2); err != nil {
				return 0, err
			}
			depth -= 2
			push(1)

		case OpMakeArray:
			if err := checkPop(i, int(in.Dst)); err != nil {
				return 0, err
			}
			depth -= int(in.Dst)
			push(1)

		case OpSetArray:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkStack(i, in.Src2); err != nil {
				return 0, err
			}
			if err := checkStack(i, in.Dst); err != nil {
				return 0, err
			}

		case OpGetArray:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkStack(i, in.Src2); err != nil {
				return 0, err
			}
			push(1)

		case OpCall, OpTailCall:
			// Function value plus dst arguments.
			if err := checkPop(i, int(in.Dst)+1); err != nil {
				return 0, err
			}
			depth -= int(in.Dst) + 1
			push(1)

		case OpReturn:
			if err := checkPop(i, 1); err != nil {
				return 0, err
			}
			depth--

		case OpClosure:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkPop(i, int(in.Dst)); err != nil {
				return 0, err
			}
			depth -= int(in.Dst)
			push(1)

		case OpSet:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkStack(i, in.Dst); err != nil {
				return 0, err
			}

		case OpLoadConstant, OpLoadGlobal:
			// Constants-vector indices are checked at run time against the
			// vector's recorded length; the constants vector is not part
			// of the declared frame shape.
			push(1)

		case OpLoadEnvironment:
			if err := checkEnv(i, in.Src); err != nil {
				return 0, err
			}
			push(1)

		case OpLoadArgument:
			if err := checkArg(i, in.Src); err != nil {
				return 0, err
			}
			push(1)

		case OpLoadFalse, OpLoadTrue, OpLoadNil:
			push(1)

		case OpStoreEnvironment:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkEnv(i, in.Dst); err != nil {
				return 0, err
			}

		case OpStoreArgument:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
			if err := checkArg(i, in.Dst); err != nil {
				return 0, err
			}

		case OpStoreGlobal:
			if err := checkStack(i, in.Src); err != nil {
				return 0, err
			}
		}
	}

	return maxDepth, nil
}

// VerifyBytes decodes a 4-byte-per-instruction stream and verifies it.
func VerifyBytes(data []byte, shape FrameShape) (int, error) {
	code, err := DecodeInstructions(data)
	if err != nil {
		return 0, err
	}
	return Verify(code, shape)
}
