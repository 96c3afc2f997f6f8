// Package ecgstore is a document store for ECG examination records.
//
// Exams, practitioner accounts and their binary recordings live as JSON
// documents and blobs behind a pluggable storage backend (local
// filesystem or any S3-compatible object store). On top of that sit a
// generic repository with soft deletes and optimistic concurrency, a
// filter engine that turns query parameters into predicates over raw
// documents, offset and cursor pagination, and a cache-aside layer
// (Redis or in-process) with precise or namespace-wide invalidation.
//
// Typical wiring:
//
//	backend, _ := ecgstore.NewBackend(ctx, cfg.Backend)
//	store := ecgstore.NewDocStore(backend, ecgstore.WithLogger(logger))
//	exams := ecgstore.NewExamService(store, ecgstore.NewFileStore(backend, logger), deps)
//
//	page, _ := exams.List(ctx, map[string]string{"status": "pending"}, ecgstore.Pagination{Page: 1, Limit: 20})
package ecgstore
