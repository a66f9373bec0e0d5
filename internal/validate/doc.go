// Package validate checks the study's rawdata tree against the BIDS
// standard using the bids-validator container, caching the verdict in a
// log file so repeated runs stay cheap.
package validate
