// Package syncer keeps each post's content embedding in step with its
// content.
//
// SyncEmbedding hashes the post's item name and description and compares
// the result to the stored hash. A matching hash with a stored vector costs
// nothing more; otherwise the post is marked Processing, the provider is
// called under a timeout and the vector, hash and Ready status are written
// in one storage call. Provider failures mark the post Failed and leave any
// previous embedding untouched.
//
// The write only lands if the post still has the content that was
// embedded. When an edit races the provider call the sync starts over, up
// to a configurable number of times.
//
// SyncPending is the background sweep: it picks up Pending and Failed posts,
// Ready posts edited since their last sync and Processing posts past their
// lease, then syncs them on a worker pool. Only one sweep runs at a time per
// Service.
//
//	svc := syncer.New(store, emb, syncer.WithLogger(logger))
//	result, err := svc.SyncEmbedding(ctx, postID)
//	stats, err := svc.SyncPending(ctx, &syncer.SweepConfig{Workers: 4})
package syncer
