// Package machine models a dynamic aliasing discipline for references
// derived from a single root, in the style of stacked/tree borrows.
//
// The model tracks one memory location and a forest of references rooted at
// the initial reference returned by Init. A fungible token stands for the
// right to access the location: the root starts with the whole token, and
// units of it move between references along fixed parent-child derivation
// edges (Lend, Return) or fragment and recombine in place (Split, Merge).
//
// Whether a given access is sound falls out of three pieces of state:
//
//   - the reference's kind (unique, shared read-write, shared read-only),
//     fixed at creation;
//   - the global access mode of the token (read-only or read-write),
//     changeable only by the sole holder of the only outstanding unit;
//   - exclusivity, derived on every check from the live unit count.
//
// UseToken ties them together and is the single origin of aliasing
// violations. Violations are fatal to the traced execution: every operation
// either fully commits or rejects with a coded *Error and no side effect,
// and callers are expected to stop the trace on the first one.
package machine
