// Package fixanat repairs anatomical MP2RAGE acquisitions after
// conversion: splitting combined dual-inversion files, deriving magnitude
// and phase from real/imaginary pairs, squeezing dummy axes out of UNIT1
// composites, and injecting the acquisition parameters the converter does
// not know about.
package fixanat
