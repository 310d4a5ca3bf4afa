// Package knnlib builds, persists, loads and queries approximate nearest
// neighbor indexes for two engine families modelled on FAISS and nmslib.
//
// # Quick Start
//
//	res, err := knnlib.Build(ctx, knnlib.BuildRequest{
//	    IDs:     ids,
//	    Vectors: vectors,
//	    Path:    "/data/segment_1.faiss",
//	    Params:  []string{"M=32", "efSearch=64"},
//	    Space:   "l2",
//	})
//
//	h, err := knnlib.Load(ctx, res.Path, knnlib.LoadRequest{Space: "l2"})
//	defer h.Close()
//
//	results, err := h.Query(ctx, query, 10)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Distance)
//	}
//
// # Methods
//
// Parameters come either as name=value strings, in which case M=<n> selects
// an HNSW<n> graph, or as a structured params.Method rendered by the engine
// registry into an index description such as "IVF16(HNSW16,Flat),PQ16". An
// explicit description always wins.
//
// # Results
//
// Query returns at most k results ordered by the engine's ranking. The FAISS
// family reports raw inner product (descending) for the innerproduct space;
// nmslib reports the negated dot product (ascending). Use Handle.Score to
// translate distances into comparable scores.
//
// # Errors
//
// Every failure is classified as exactly one of ErrValidation, ErrLibrary,
// ErrResourceExhausted, ErrUnknown or ErrClosed. Failed builds never leave a
// partial file at the destination and release every accounted resource.
package knnlib
