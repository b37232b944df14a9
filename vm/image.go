package vm

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Heap images
// ---------------------------------------------------------------------------

// A heap image is a CBOR snapshot of everything word-addressed: the live
// heap words, the value stack, the symbol table and the global bindings.
// Heap offsets, symbol IDs and record descriptors are stable across a
// save/load round trip. Native function and data IDs are process-local;
// an image that leans on them is only meaningful if the embedder registers
// the same natives in the same order before loading.
//
// Verification certificates are deliberately not part of the image: code
// loaded from an image is untrusted until Reverify accepts it again.

const imageVersion = 1

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

type heapImage struct {
	Version        int               `cbor:"version"`
	Next           uint64            `cbor:"next"`
	Space          []uint64          `cbor:"space"`
	Stack          []uint64          `cbor:"stack"`
	Symbols        []string          `cbor:"symbols"`
	Globals        map[uint32]uint64 `cbor:"globals"`
	NextDescriptor uint64            `cbor:"next-descriptor"`
}

// SaveImage snapshots the VM's heap state to path. The heap is compacted
// first so the image holds only live objects.
func (vm *VM) SaveImage(path string) error {
	vm.heap.Collect()

	img := heapImage{
		Version:        imageVersion,
		Next:           vm.heap.next,
		Space:          vm.heap.space[:vm.heap.next/WordSize],
		Stack:          make([]uint64, len(vm.heap.stack)),
		Symbols:        vm.symbols.names(),
		Globals:        make(map[uint32]uint64, len(vm.globals)),
		NextDescriptor: vm.heap.nextDescriptor,
	}
	for i, v := range vm.heap.stack {
		img.Stack[i] = uint64(v)
	}
	for sym, v := range vm.globals {
		img.Globals[sym.SymbolID()] = uint64(v)
	}

	data, err := imageEncMode.Marshal(&img)
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	vm.log.Infof("saved image %s: %d words, %d symbols, %d globals",
		path, len(img.Space), len(img.Symbols), len(img.Globals))
	return nil
}

// LoadImage replaces the VM's heap state with a snapshot read from path.
// All existing handles, roots and verification certificates of this VM are
// invalidated.
func (vm *VM) LoadImage(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	var img heapImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}
	if img.Version != imageVersion {
		return fmt.Errorf("image version %d not supported", img.Version)
	}
	if img.Next%WordSize != 0 || uint64(len(img.Space))*WordSize != img.Next {
		return fmt.Errorf("corrupt image: %d words does not match next offset %d",
			len(img.Space), img.Next)
	}

	words := len(vm.heap.space)
	if len(img.Space) > words {
		words = len(img.Space)
	}
	space := make([]uint64, words)
	copy(space, img.Space)
	vm.heap.space = space
	vm.heap.next = img.Next
	vm.heap.nextDescriptor = img.NextDescriptor

	vm.heap.stack = vm.heap.stack[:0]
	for _, w := range img.Stack {
		vm.heap.stack = append(vm.heap.stack, Value(w))
	}

	vm.symbols.restore(img.Symbols)
	vm.globals = make(map[Value]Value, len(img.Globals))
	for id, w := range img.Globals {
		vm.globals[FromSymbolID(id)] = Value(w)
	}

	vm.verified = make(map[Value]*codeInfo)
	vm.frames = vm.frames[:0]
	vm.heap.dropHandles()

	vm.log.Infof("loaded image %s: %d words, %d symbols, %d globals",
		path, len(img.Space), len(img.Symbols), len(img.Globals))
	return nil
}

// Reverify re-certifies a bytecode object already on the heap, typically
// one restored from an image, making it executable again.
func (vm *VM) Reverify(bco Value, shape FrameShape) error {
	code, err := vm.heap.BytecodeBytes(bco)
	if err != nil {
		return err
	}
	instructions, err := DecodeInstructions(code)
	if err != nil {
		return err
	}
	maxDepth, err := Verify(instructions, shape)
	if err != nil {
		return err
	}
	vm.verified[bco] = &codeInfo{code: instructions, shape: shape, maxDepth: maxDepth}
	return nil
}
