// Package fixfmap normalizes fieldmap files after conversion: renaming
// shimmed B0 and legacy GRE outputs to their BIDS names, tagging fieldmap
// sidecars with units, and cross-referencing the functional runs each
// fieldmap corrects via IntendedFor.
package fixfmap
