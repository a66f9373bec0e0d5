// Package steps defines the shared vocabulary for pipeline steps: the
// sentinel error classes every step wraps its failures with, and the
// Result type steps return so callers can tell an applied change from a
// deliberate skip.
package steps
