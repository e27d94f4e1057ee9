// Package vm implements the Kiln virtual machine.
//
// This package contains:
//   - Tagged value representation and copy-on-write containers
//   - Bytecode definitions, builder and disassembler
//   - Stack-based interpreter over one chunk at a time
//   - Hot-path profiler with call and loop-visit counters
//   - Adaptive translation of hot loops and functions to native step code
//   - Compiled-function cache with a direct compiled-to-compiled fast path
package vm
