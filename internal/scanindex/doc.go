// Package scanindex owns the tab-separated scan manifest tracking every
// image file a session produces, keyed by path relative to the session
// rawdata root.
//
// The manifest is the bookkeeping half of every destructive rewrite: when a
// combined file is split or renamed, the corresponding rows are replaced or
// renamed in lockstep, inheriting the original row's acquisition metadata.
// Every mutating operation persists the full table immediately, so an
// interrupted pipeline leaves the manifest consistent with whatever
// mutations completed.
package scanindex
