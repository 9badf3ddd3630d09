// Package jobs delivers embedding-sync jobs from post writes to a
// background worker.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by a closed queue
var ErrQueueClosed = errors.New("queue closed")

// Job asks for the embedding of one post to be synced
type Job struct {
	PostID     string    `json:"post_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a first-attempt job for postID
func NewJob(postID string) Job {
	return Job{PostID: postID, Attempt: 1, EnqueuedAt: time.Now().UTC()}
}

// Queue is a FIFO of sync jobs. Delivery is at least once.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx is done or the queue is closed
	Dequeue(ctx context.Context) (Job, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// DefaultMemoryQueueSize is the buffer size of a MemoryQueue
const DefaultMemoryQueueSize = 1024

// MemoryQueue is an in-process Queue. Jobs are lost on restart; the sync
// sweep picks up whatever was left Pending.
type MemoryQueue struct {
	jobs      chan Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a queue holding up to size jobs. Enqueue blocks
// while it is full.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = DefaultMemoryQueueSize
	}
	return &MemoryQueue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return Job{}, ErrQueueClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	return len(q.jobs), nil
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
