// Package session models one subject/visit of a study and resolves every
// path the pipeline touches.
//
// A Session is immutable once constructed: the area map and the canonical
// sub-*_ses-* filename prefix are pure functions of (study root, subject,
// session). Construction performs no I/O and no existence checks; callers
// decide which directories to create and when.
package session
