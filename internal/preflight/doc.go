// Package preflight holds the checks a step runs before doing work: the
// output-existence gate that makes every pipeline step idempotent, and the
// external binary availability report surfaced by the deps command.
package preflight
