package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Call frames
// ---------------------------------------------------------------------------

// frame is the execution state of one function invocation. Its operand
// region is the slice of the heap value stack above base; stack-relative
// operands count down from the top of that region.
//
// The bco, constants and env fields are live across allocations, so the VM
// exposes them to the collector as roots.
type frame struct {
	bco       Value // the bytecode object being executed
	constants Value // its constants vector
	env       Value // closure providing the captured environment, or Nil
	info      *codeInfo

	ip         int // next instruction index
	argBase    int // stack index of argument 0
	base       int // stack index where the operand region starts
	resultSlot int // stack index the return value lands in
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Execute calls a function value with the given arguments and returns its
// result. The function may be a native function, a bytecode object, or a
// closure; bytecode must have been loaded (and so verified) by this VM.
//
// The hot loop performs no bounds checks on stack-, argument- or
// environment-relative operands: the verifier certified them. Constants
// and globals are checked at run time and surface recoverable errors.
func (vm *VM) Execute(fn Value, args []Value) (Value, error) {
	stackBase := vm.heap.Depth()
	outer := len(vm.frames)

	vm.heap.Push(fn)
	for _, a := range args {
		vm.heap.Push(a)
	}
	if err := vm.invoke(len(args), false); err != nil {
		vm.heap.truncate(stackBase)
		return Nil, err
	}
	for len(vm.frames) > outer {
		if err := vm.step(); err != nil {
			vm.frames = vm.frames[:outer]
			vm.heap.truncate(stackBase)
			return Nil, err
		}
	}
	return vm.heap.Pop(), nil
}

// invoke consumes [function, arg0 .. argN-1] from the top of the stack.
// Native functions run to completion; interpreted code pushes a frame
// (replacing the current one when tail is set).
func (vm *VM) invoke(argc int, tail bool) error {
	h := vm.heap

	if tail {
		// Slide the callee's region down over the current frame so the
		// control stack cannot grow.
		cur := vm.frames[len(vm.frames)-1]
		fnIdx := h.Depth() - argc - 1
		n := copy(h.stack[cur.resultSlot:], h.stack[fnIdx:])
		h.truncate(cur.resultSlot + n)
		vm.frames = vm.frames[:len(vm.frames)-1]
	}

	fnIdx := h.Depth() - argc - 1
	fn := h.stack[fnIdx]

	if native, ok := vm.natives.lookupFunc(fn); ok {
		// Arguments are copied out: a native that allocates must root
		// whatever it still needs, like any other mutator code.
		args := make([]Value, argc)
		copy(args, h.stack[fnIdx+1:])
		result, err := native(vm, args)
		if err != nil {
			return err
		}
		h.truncate(fnIdx)
		h.Push(result)
		return nil
	}

	var bco, env Value
	switch fn.Tag() {
	case TagFunction:
		bco, env = fn, Nil
	case TagVector:
		b, err := vm.heap.ClosureBytecode(fn)
		if err != nil {
			return &WrongTypeError{Op: "call", Want: TagFunction, Got: fn.Tag()}
		}
		bco, env = b, fn
	default:
		return &WrongTypeError{Op: "call", Want: TagFunction, Got: fn.Tag()}
	}

	info, ok := vm.verified[bco]
	if !ok {
		return ErrUnverified
	}

	argc, err := vm.bindArguments(info.shape, argc)
	if err != nil {
		return err
	}
	if err := vm.checkEnvironment(info.shape, env); err != nil {
		return err
	}
	if len(vm.frames) >= vm.cfg.Stack.MaxFrames {
		return &StackOverflowError{Frames: len(vm.frames)}
	}

	constants, err := h.ConstantsVector(bco)
	if err != nil {
		return err
	}
	fnIdx = h.Depth() - argc - 1
	vm.frames = append(vm.frames, frame{
		bco:        bco,
		constants:  constants,
		env:        env,
		info:       info,
		argBase:    fnIdx + 1,
		base:       fnIdx + 1 + argc,
		resultSlot: fnIdx,
	})
	return nil
}

// bindArguments enforces the declared arity. For a vararg shape the last
// declared argument collects the surplus actuals into a list; the adjusted
// argument count is returned.
func (vm *VM) bindArguments(shape FrameShape, argc int) (int, error) {
	if !shape.Vararg {
		if argc != shape.ArgCount {
			return 0, &ArityError{Want: shape.ArgCount, Got: argc}
		}
		return argc, nil
	}
	if argc < shape.ArgCount-1 {
		return 0, &ArityError{Want: shape.ArgCount - 1, Vararg: true, Got: argc}
	}
	h := vm.heap
	h.Push(Nil)
	for i := argc; i >= shape.ArgCount; i-- {
		rest := h.Pop()
		arg := h.Pop()
		pair, err := h.Cons(arg, rest)
		if err != nil {
			return 0, err
		}
		h.Push(pair)
	}
	return shape.ArgCount, nil
}

// checkEnvironment ensures the closure actually carries the environment
// length the code was verified against; environment reads and writes are
// unchecked after this point.
func (vm *VM) checkEnvironment(shape FrameShape, env Value) error {
	if shape.EnvLength == 0 {
		return nil
	}
	if env == Nil {
		return fmt.Errorf("call: closure environment too short: need %d, have none", shape.EnvLength)
	}
	length, err := vm.heap.ArrayLength(env)
	if err != nil {
		return err
	}
	if length-1 < shape.EnvLength {
		return fmt.Errorf("call: closure environment too short: need %d, have %d", shape.EnvLength, length-1)
	}
	return nil
}

// returnValue delivers a result to the current frame's caller.
func (vm *VM) returnValue(result Value) {
	f := vm.frames[len(vm.frames)-1]
	vm.heap.truncate(f.resultSlot)
	vm.heap.Push(result)
	vm.frames = vm.frames[:len(vm.frames)-1]
}

// envRead and envWrite access captured-environment slots without bounds
// checks; checkEnvironment established the extent at call time.
func (vm *VM) envRead(f *frame, index uint8) Value {
	return Value(vm.heap.word(f.env.heapOffset() + uint64(2+index)*WordSize))
}

func (vm *VM) envWrite(f *frame, index uint8, v Value) {
	vm.heap.setWord(f.env.heapOffset()+uint64(2+index)*WordSize, uint64(v))
}

// step executes one instruction of the current frame.
func (vm *VM) step() error {
	h := vm.heap
	f := &vm.frames[len(vm.frames)-1]

	if f.ip >= len(f.info.code) {
		// Straight-line code without an explicit return yields the top of
		// its operand region, or the undefined value.
		result := Undefined
		if h.Depth() > f.base {
			result = h.Top()
		}
		vm.returnValue(result)
		return nil
	}

	in := f.info.code[f.ip]
	f.ip++

	switch in.Opcode {
	case OpCons:
		car := h.at(int(in.Src))
		cdr := h.at(int(in.Src2))
		for i := 0; i < int(in.Dst); i++ {
			h.Pop()
		}
		pair, err := h.Cons(car, cdr)
		if err != nil {
			return err
		}
		h.Push(pair)

	case OpCar:
		v, err := h.Car(h.at(int(in.Src)))
		if err != nil {
			return err
		}
		h.Push(v)

	case OpCdr:
		v, err := h.Cdr(h.at(int(in.Src)))
		if err != nil {
			return err
		}
		h.Push(v)

	case OpSetCar:
		if err := h.SetCar(h.at(int(in.Src2)), h.at(int(in.Src))); err != nil {
			return err
		}

	case OpSetCdr:
		if err := h.SetCdr(h.at(int(in.Src2)), h.at(int(in.Src))); err != nil {
			return err
		}

	case OpIsPair:
		h.Push(FromBool(h.at(int(in.Src)).Pairp()))

	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpPower:
		b := h.Pop()
		a := h.Pop()
		v, err := vm.arith(in.Opcode, a, b)
		if err != nil {
			return err
		}
		h.Push(v)

	case OpMakeArray:
		elems := make([]Value, int(in.Dst))
		for i := len(elems) - 1; i >= 0; i-- {
			elems[i] = h.Pop()
		}
		vec, err := h.MakeVector(elems...)
		if err != nil {
			return err
		}
		h.Push(vec)

	case OpSetArray:
		index, err := h.at(int(in.Src2)).AsFixnum()
		if err != nil {
			return err
		}
		if err := h.ArraySet(h.at(int(in.Dst)), int(index), h.at(int(in.Src))); err != nil {
			return err
		}

	case OpGetArray:
		index, err := h.at(int(in.Src2)).AsFixnum()
		if err != nil {
			return err
		}
		v, err := h.ArrayGet(h.at(int(in.Src)), int(index))
		if err != nil {
			return err
		}
		h.Push(v)

	case OpIsArray:
		h.Push(FromBool(h.IsVector(h.at(int(in.Src)))))

	case OpArrayLen:
		length, err := h.ArrayLength(h.at(int(in.Src)))
		if err != nil {
			return err
		}
		h.Push(FromFixnum(int64(length)))

	case OpCall:
		return vm.invoke(int(in.Dst), false)

	case OpTailCall:
		return vm.invoke(int(in.Dst), true)

	case OpReturn:
		vm.returnValue(h.Pop())

	case OpClosure:
		bco := h.at(int(in.Src))
		env := make([]Value, int(in.Dst))
		for i := len(env) - 1; i >= 0; i-- {
			env[i] = h.Pop()
		}
		closure, err := h.MakeClosure(bco, env...)
		if err != nil {
			return err
		}
		h.Push(closure)

	case OpSet:
		h.setAt(int(in.Dst), h.at(int(in.Src)))

	case OpLoadConstant:
		v, err := h.ArrayGet(f.constants, int(in.Src))
		if err != nil {
			return err
		}
		h.Push(v)

	case OpLoadEnvironment:
		h.Push(vm.envRead(f, in.Src))

	case OpLoadArgument:
		h.Push(h.stack[f.argBase+int(in.Src)])

	case OpLoadGlobal:
		sym, err := h.ArrayGet(f.constants, int(in.Src))
		if err != nil {
			return err
		}
		v, err := vm.LookupGlobal(sym)
		if err != nil {
			return err
		}
		h.Push(v)

	case OpLoadFalse:
		h.Push(False)

	case OpLoadTrue:
		h.Push(True)

	case OpLoadNil:
		h.Push(Nil)

	case OpStoreEnvironment:
		vm.envWrite(f, in.Dst, h.at(int(in.Src)))

	case OpStoreArgument:
		h.stack[f.argBase+int(in.Dst)] = h.at(int(in.Src))

	case OpStoreGlobal:
		sym, err := h.ArrayGet(f.constants, int(in.Dst))
		if err != nil {
			return err
		}
		if err := vm.DefineGlobal(sym, h.at(int(in.Src))); err != nil {
			return err
		}

	default:
		// Unreachable: verification rejects unknown opcodes.
		panic(fmt.Sprintf("step: unverified opcode 0x%02X", byte(in.Opcode)))
	}
	return nil
}
