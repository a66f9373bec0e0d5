// Package convert turns staged sourcedata into BIDS rawdata by driving
// heudiconv, either locally or through its Docker image, with a
// study-supplied heuristic. It also cleans up the converter's leftovers:
// the hidden cache directory and redundant derived diffusion maps.
package convert
