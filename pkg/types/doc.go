// Package types provides shared type definitions for the post search service.
//
// Post is the lost-and-found listing that every other package operates on.
// Its embedding fields (ContentEmbedding, ContentHash, EmbeddingStatus and
// EmbeddingError) are written only by the embedding sync service:
//
//	post := &types.Post{
//	    ID:          uuid.NewString(),
//	    PostType:    types.PostTypeLost,
//	    ItemName:    "Black Wallet",
//	    Description: "lost near park",
//	    AuthorID:    "user-1",
//	}
//
// # Embedding Lifecycle
//
// A new post starts Pending. The sync service moves it to Processing while
// the provider runs, then to Ready (vector and hash written together) or
// Failed (previous vector kept). Failed posts are retried through Processing.
//
// HasFreshEmbedding is the single check deciding whether a post can skip
// re-embedding: the stored hash must equal the live content hash and a vector
// must be present.
//
// # Errors
//
// errors.go defines the taxonomy used across packages: ErrValidation,
// ErrNotFound, ErrInvalidArgument, ErrProvider and ErrProviderTimeout, plus
// ErrContentChanged for edits racing an embedding write.
package types
