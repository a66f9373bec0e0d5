// Package fixepi completes the metadata of spin-echo EPI fieldmaps. The
// converter does not record the phase-encoding direction or total readout
// time for Philips acquisitions, so both are reconstructed here: the
// direction from study configuration and the readout time from the
// scanner's private DICOM tags.
package fixepi
