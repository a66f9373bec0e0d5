// Command bidskit converts raw scanner output into validated BIDS datasets
// and repairs the metadata the converters get wrong.
package main
