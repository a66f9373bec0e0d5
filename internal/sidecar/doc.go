// Package sidecar reads and writes the JSON metadata document paired with
// each image file.
//
// Sidecars are finalized read-only between pipeline runs so downstream
// tooling cannot edit them by accident; orchestrators mutate them through
// WithWritable, which restores the read-only bit on every exit path. The
// Document type preserves top-level key insertion order so repeated runs
// produce byte-stable files.
package sidecar
