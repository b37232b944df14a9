// Package vm implements the RustyScheme runtime core.
//
// This package contains:
//   - Tagged-word value representation
//   - Heap object layout and a copying collector
//   - Bytecode instruction set and codec
//   - Static bytecode verifier
//   - Bytecode interpreter
//   - Heap image snapshots and a verified-bytecode cache
package vm
