package vm

import (
	"fmt"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// ---------------------------------------------------------------------------
// VM: the RustyScheme runtime core
// ---------------------------------------------------------------------------

// VM ties together the heap, the symbol table, the native registries, the
// global bindings and the verified-code table. It is the unit of execution:
// one VM, one logical thread of control.
type VM struct {
	cfg Config

	heap    *Heap
	symbols *SymbolTable
	natives *nativeRegistry

	// globals maps symbol values to their bound values.
	globals map[Value]Value

	// verified maps bytecode objects, by identity, to their certified
	// metadata. Executing a bytecode object absent from this table is
	// refused: verify once, trust always.
	verified map[Value]*codeInfo

	frames []frame

	cache *BytecodeCache
	log   commonlog.Logger
}

// codeInfo is the certificate produced by verification.
type codeInfo struct {
	code     []Instruction
	shape    FrameShape
	maxDepth int
}

// New creates a VM from a configuration.
func New(cfg Config) (*VM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	commonlog.Configure(cfg.Log.Verbosity, nil)

	vm := &VM{
		cfg:      cfg,
		heap:     NewHeap(cfg.Heap.Words),
		symbols:  NewSymbolTable(),
		natives:  newNativeRegistry(),
		globals:  make(map[Value]Value),
		verified: make(map[Value]*codeInfo),
		log:      commonlog.GetLogger("rusty-scheme.vm"),
	}
	vm.heap.SetMaxWords(cfg.Heap.MaxWords)
	vm.heap.RegisterRoots(vm.visitRoots)
	vm.heap.OnBytecodeMove(vm.rekeyVerified)

	if cfg.Cache.Path != "" {
		cache, err := OpenBytecodeCache(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("opening bytecode cache: %w", err)
		}
		vm.cache = cache
	}
	return vm, nil
}

// Close releases resources held outside the managed heap.
func (vm *VM) Close() error {
	if vm.cache != nil {
		return vm.cache.Close()
	}
	return nil
}

// Heap returns the VM's heap.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// Symbols returns the VM's symbol table.
func (vm *VM) Symbols() *SymbolTable {
	return vm.symbols
}

// Intern interns a symbol name.
func (vm *VM) Intern(name string) Value {
	return vm.symbols.Intern(name)
}

// RegisterNative registers a Go-implemented function and returns its value.
func (vm *VM) RegisterNative(fn NativeFunc) Value {
	return vm.natives.registerFunc(fn)
}

// WrapData wraps a Go value as native data.
func (vm *VM) WrapData(x any) Value {
	return vm.natives.registerData(x)
}

// Data returns the Go value behind a native-data value.
func (vm *VM) Data(v Value) (any, bool) {
	return vm.natives.lookupData(v)
}

// ReleaseData drops a native-data value from the registry. Wrapped data is
// invisible to the collector, so the host releases it deterministically
// once no Scheme value can reach it, the same discipline as handles.
func (vm *VM) ReleaseData(v Value) {
	vm.natives.releaseData(v)
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// DefineGlobal binds a symbol to a value.
func (vm *VM) DefineGlobal(sym, v Value) error {
	if sym.Tag() != TagSymbol {
		return &WrongTypeError{Op: "define-global", Want: TagSymbol, Got: sym.Tag()}
	}
	vm.globals[sym] = v
	return nil
}

// LookupGlobal returns the value bound to a symbol.
func (vm *VM) LookupGlobal(sym Value) (Value, error) {
	if sym.Tag() != TagSymbol {
		return Nil, &WrongTypeError{Op: "lookup-global", Want: TagSymbol, Got: sym.Tag()}
	}
	v, ok := vm.globals[sym]
	if !ok {
		name, _ := vm.symbols.Name(sym)
		return Nil, fmt.Errorf("%w: %s", ErrUnboundGlobal, name)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// GC integration
// ---------------------------------------------------------------------------

// visitRoots exposes the VM's own roots to the collector: global bindings
// and the Values held by active call frames.
func (vm *VM) visitRoots(visit func(*Value)) {
	for sym, v := range vm.globals {
		nv := v
		visit(&nv)
		if nv != v {
			vm.globals[sym] = nv
		}
	}
	for i := range vm.frames {
		f := &vm.frames[i]
		visit(&f.bco)
		visit(&f.constants)
		visit(&f.env)
	}
}

// rekeyVerified rebuilds the verified table after a collection. Moves
// cannot be applied one at a time: the semispaces share an offset
// numbering, so one object's new identity can equal another's old one, and
// an in-place update would read a clobbered entry. The replacement table is
// built entirely from the pre-collection one. Objects absent from the
// batch were not copied; dropping their entries keeps a recycled offset
// from inheriting a dead object's certificate.
func (vm *VM) rekeyVerified(moves []BytecodeMove) {
	if len(vm.verified) == 0 {
		return
	}
	rekeyed := make(map[Value]*codeInfo, len(moves))
	for _, m := range moves {
		if info, ok := vm.verified[m.Old]; ok {
			rekeyed[m.New] = info
		}
	}
	vm.verified = rekeyed
}

// ---------------------------------------------------------------------------
// Loading bytecode
// ---------------------------------------------------------------------------

// LoadBytecode verifies raw instruction bytes against the declared frame
// shape and, on success, constructs a certified bytecode object.
//
// The constants vector must already be the top of the value stack; it is
// consumed and replaced by the new bytecode reference, which is also
// returned.
func (vm *VM) LoadBytecode(code []byte, shape FrameShape) (Value, error) {
	maxDepth, cached, err := vm.lookupCached(code, shape)
	if err != nil {
		return Nil, err
	}
	instructions, err := DecodeInstructions(code)
	if err != nil {
		return Nil, err
	}
	if !cached {
		maxDepth, err = Verify(instructions, shape)
		if err != nil {
			return Nil, err
		}
		vm.storeCached(code, shape, maxDepth)
	}

	bco, err := AllocateBytecode(vm.heap, code)
	if err != nil {
		return Nil, err
	}
	vm.verified[bco] = &codeInfo{code: instructions, shape: shape, maxDepth: maxDepth}
	vm.log.Debugf("loaded %d instructions, max depth %d, cached=%v",
		len(instructions), maxDepth, cached)
	return bco, nil
}

// Verified reports whether a bytecode object has passed verification in
// this VM.
func (vm *VM) Verified(bco Value) bool {
	_, ok := vm.verified[bco]
	return ok
}

func (vm *VM) lookupCached(code []byte, shape FrameShape) (int, bool, error) {
	if vm.cache == nil {
		return 0, false, nil
	}
	maxDepth, ok, err := vm.cache.Lookup(code, shape)
	if err != nil {
		// A broken cache must never block loading; fall back to verifying.
		vm.log.Errorf("bytecode cache lookup: %s", err.Error())
		return 0, false, nil
	}
	return maxDepth, ok, nil
}

func (vm *VM) storeCached(code []byte, shape FrameShape, maxDepth int) {
	if vm.cache == nil {
		return
	}
	if err := vm.cache.Store(code, shape, maxDepth); err != nil {
		vm.log.Errorf("bytecode cache store: %s", err.Error())
	}
}
