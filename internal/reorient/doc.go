// Package reorient standardizes the voxel axis order of converted images
// using FSL's fslswapdim, so downstream viewers and analyses see every
// acquisition in the same orientation.
package reorient
