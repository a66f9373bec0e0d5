// Package pipeline chains the individual processing steps into the full
// import-to-QC workflow for one session, stopping at the first failure so
// later steps never run over partial output.
package pipeline
