// Package searcher provides the per-query scratch space used by graph and
// inverted-list searches: bounded heaps and a resettable visited set.
//
// A Scratch is owned by exactly one query at a time. Loaded indexes are never
// mutated during search, so concurrent queries only need separate scratch,
// which Pool hands out.
package searcher
