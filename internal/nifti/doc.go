// Package nifti reads and writes NIfTI-1 images, plain or gzip-compressed.
//
// The reader accepts both byte orders and the common scalar datatypes and
// normalizes voxel data to float64 with the header scaling applied, so the
// computation layers never deal with raw on-disk types. The writer always
// emits little-endian float32 single-file (.nii) images, which is what the
// downstream BIDS tooling expects.
package nifti
