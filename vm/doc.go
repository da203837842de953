// Package vm implements a Smalltalk virtual machine core.
//
// This package contains:
//   - Tagged 64-bit values (nil, booleans, SmallIntegers, a few floats,
//     object references)
//   - A handle-indirected heap with a Cheney stop-and-copy collector
//   - Classes, metaclasses and method dictionaries
//   - Compiled methods, the bytecode set and its tooling
//   - A bytecode interpreter with heap-allocated contexts and blocks
//   - The primitive registry and kernel primitives
package vm
