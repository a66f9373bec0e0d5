// Package importdcm stages raw scanner output into the sourcedata tree.
// The input may be a zip archive, a directory holding one, or a directory
// of DICOM files; archives are extracted and dcm2niix reorganizes the
// files into one directory per series.
package importdcm
