package vm

// ---------------------------------------------------------------------------
// Native registries
// ---------------------------------------------------------------------------

// NativeFunc is a Go-implemented Scheme function. Arguments arrive fully
// evaluated; the returned value is pushed for the caller. A native function
// that allocates must root its intermediates on the heap stack or in
// handles like any other mutator code.
type NativeFunc func(vm *VM, args []Value) (Value, error)

// nativeRegistry backs the native-function and native-data tags. A tagged
// Value holds only a registry ID; the registry keeps the Go values alive
// and visible to Go's garbage collector, since the encoded word is opaque
// to it.
//
// Single mutator thread by contract; not synchronized.
type nativeRegistry struct {
	funcs []NativeFunc

	data   map[uint32]any
	dataID uint32
}

func newNativeRegistry() *nativeRegistry {
	return &nativeRegistry{
		data: make(map[uint32]any),
		// Start IDs at 1 so a zero word never aliases live data.
		dataID: 1,
	}
}

// registerFunc adds a native function and returns its tagged value.
func (r *nativeRegistry) registerFunc(fn NativeFunc) Value {
	id := uint32(len(r.funcs))
	r.funcs = append(r.funcs, fn)
	return FromNativeFuncID(id)
}

// lookupFunc returns the native function behind a value.
func (r *nativeRegistry) lookupFunc(v Value) (NativeFunc, bool) {
	if v.Tag() != TagNativeFunc {
		return nil, false
	}
	id := v.NativeFuncID()
	if int(id) >= len(r.funcs) {
		return nil, false
	}
	return r.funcs[id], true
}

// registerData wraps a Go value and returns its tagged value.
func (r *nativeRegistry) registerData(x any) Value {
	id := r.dataID
	r.dataID++
	r.data[id] = x
	return FromNativeDataID(id)
}

// lookupData returns the Go value behind a native-data value.
func (r *nativeRegistry) lookupData(v Value) (any, bool) {
	if v.Tag() != TagNativeData {
		return nil, false
	}
	x, ok := r.data[v.NativeDataID()]
	return x, ok
}

// releaseData drops a wrapped Go value.
func (r *nativeRegistry) releaseData(v Value) {
	if v.Tag() == TagNativeData {
		delete(r.data, v.NativeDataID())
	}
}
