// Package storage defines the post persistence contract and its SQLite
// implementation.
//
// A store keeps lost-and-found posts together with their embedding state:
//   - Post content (item name, description, image URLs, resolved place)
//   - Author and timestamps
//   - Content embedding, content hash and embedding status
//   - Soft-delete marker
//
// Soft-deleted posts are invisible to every read path.
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations, compared as semantic versions
//   - posts: one row per post, including its embedding columns
//
// CHECK constraints keep the embedding columns consistent: a content hash
// is never stored without a vector, Ready always has a vector, and a place
// is either fully resolved or absent.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("postsearch.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.CreatePost(ctx, &types.Post{
//	    PostType: types.PostTypeLost,
//	    ItemName: "Black wallet",
//	    AuthorID: "user-42",
//	})
//
// # Embedding Writes
//
// Only two calls touch embedding state. SetEmbeddingStatus moves a post to
// Pending, Processing or Failed. SaveEmbedding stores vector, hash and
// Ready in one statement, and only if the post still has the content the
// vector was computed from:
//
//	err := db.SaveEmbedding(ctx, id, storage.EmbeddingRecord{
//	    Vector:      vec,
//	    ContentHash: contenthash.PostContent(name, desc),
//	    ItemName:    name,
//	    Description: desc,
//	})
//	if errors.Is(err, types.ErrContentChanged) {
//	    // post was edited meanwhile, recompute
//	}
//
// # Queries
//
// GetPaged lists posts newest first (ties by ID) with optional type,
// author, text and distance filters. SearchBySemantic and GetSimilarPosts
// rank Ready posts by cosine similarity to a query vector; scores are
// clamped to [0, 1]. Distance filters use the haversine formula and include
// posts exactly on the radius.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Registers a cosine_similarity SQL function on every connection
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (purego tag, or no tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Similarity is computed in Go after loading candidate vectors
//
//     CGO_ENABLED=0 go build -tags "purego"
//
// The postgres subpackage implements the same contract on PostgreSQL with
// pgvector, and the memory subpackage keeps everything in process.
package storage
