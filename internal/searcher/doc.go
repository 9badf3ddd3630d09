// Package searcher implements the query side of post search: paged
// listing, semantic search and similar-post lookup.
//
// The searcher validates and normalizes request parameters, converts
// page/pageSize into offset/limit, dispatches to storage and shapes the
// results with similarity scores and distances.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb)
//
//	page, err := s.ListPosts(ctx, searcher.ListRequest{
//	    Page:     1,
//	    PageSize: 20,
//	    PostType: types.PostTypeLost,
//	    Geo: searcher.GeoParams{
//	        Latitude:  &lat,
//	        Longitude: &lon,
//	        RadiusKm:  &radius,
//	    },
//	})
//
//	for _, item := range page.Items {
//	    fmt.Printf("%s %s (%.1f km)\n", item.ID, item.ItemName, *item.DistanceKm)
//	}
//
// # Paging
//
// Zero page and page size mean "use the default" (page 1, DefaultPageSize).
// Negative values and page sizes above MaxPageSize are rejected with
// types.ErrValidation rather than clamped. TotalPages is
// ceil(TotalCount/PageSize); HasNextPage is Page < TotalPages.
//
// # Semantic Search
//
// The search text is embedded on the request path under QueryTimeout.
// Provider failures surface as types.ErrProvider or types.ErrProviderTimeout
// and are never turned into an empty or keyword-only result. Query vectors
// are cached in an LRU keyed by provider, model and text:
//
//	resp, err := s.SearchSemantic(ctx, searcher.SemanticRequest{
//	    SearchText: "black leather wallet",
//	})
//	if errors.Is(err, types.ErrProviderTimeout) {
//	    // 504
//	}
//
// # Similar Posts
//
// GetSimilarPosts matches a post against posts of the opposite type, within
// SimilarRadiusKm of its place when it has one. A source post without a
// Ready embedding is not an error: the response has IsReady=false and the
// current EmbeddingStatus.
//
// # Scores
//
// Similarity scores are cosine similarity clamped to [0, 1]. Distances are
// great-circle kilometres from the request center.
package searcher
