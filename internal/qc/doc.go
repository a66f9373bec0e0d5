// Package qc produces participant-level quality control reports with the
// MRIQC container, writing HTML reports and image metrics under
// derivatives/mriqc.
package qc
