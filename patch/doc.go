// Package patch models the synthesizer's patch graph: modules with ports
// and parameters, cables joining an output to an input, and patch-level
// metadata.
//
// A [Patch] is a plain value with no locking. The engine owns the
// published copy and hands readers deep clones from [Patch.Clone].
//
// Invariants enforced by every mutating method and checked as a whole by
// [Patch.Validate]:
//   - module IDs are unique and non-zero
//   - cables join an existing output port to an existing input port
//   - an input port carries at most one cable; outputs fan out freely
//   - parameter values stay inside their range
package patch
