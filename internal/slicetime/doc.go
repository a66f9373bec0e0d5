// Package slicetime applies slice timing correction to functional runs
// with FSL's slicetimer and records the acquisition timing in each run's
// sidecar so the correction is visible and idempotent.
package slicetime
