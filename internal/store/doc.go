// Package store is the single gateway to the relational database. It exposes
// typed operations over companies, locations, postings, sources, runs,
// queries, and enrichment rows, and maps driver errors onto the package
// sentinels (ErrNotFound, ErrConflict, ErrConstraint, ErrTransport) so
// callers never import pgx directly.
package store
