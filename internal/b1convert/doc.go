// Package b1convert turns staged B1 map DICOM series into rawdata field
// maps by driving dcm2niix directly. heudiconv misnames Philips B1 maps,
// so these series bypass the heuristic conversion entirely.
package b1convert
