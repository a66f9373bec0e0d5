// Package volume implements the voxel-level transforms behind the
// anatomical fixes: splitting dual-channel 4D acquisitions, deriving
// magnitude and phase from real/imaginary pairs, and dropping singleton
// axes.
package volume
