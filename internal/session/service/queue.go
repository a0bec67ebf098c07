// Package service orchestrates capture sessions: per-session event queues,
// the single-consumer aggregation worker, and the stop sequence.
package service

import (
	"context"

	"twitchpulse/backend/internal/session/domain"
)

const defaultQueueCapacity = 5000

// item is one queue slot: either a raw event or the drain marker that tells
// the worker to exit after everything ahead of it is processed.
type item struct {
	event *domain.RawEvent
	drain bool
}

// Queue is a bounded, non-blocking event queue between one producer and one
// worker. Enqueues never block; a full queue drops at the edge.
type Queue struct {
	ch chan item
}

// NewQueue returns a queue holding up to capacity events.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = defaultQueueCapacity
	}
	return &Queue{ch: make(chan item, capacity)}
}

// TryEnqueue offers one event without blocking. Returns false when full.
func (q *Queue) TryEnqueue(event *domain.RawEvent) bool {
	select {
	case q.ch <- item{event: event}:
		return true
	default:
		return false
	}
}

// TryDrain offers the drain marker without blocking. Returns false when full,
// in which case the caller falls back to cancelling the worker.
func (q *Queue) TryDrain() bool {
	select {
	case q.ch <- item{drain: true}:
		return true
	default:
		return false
	}
}

// Dequeue blocks for the next item. drain is true when the marker was
// reached; err is non-nil only when ctx ended first.
func (q *Queue) Dequeue(ctx context.Context) (event *domain.RawEvent, drain bool, err error) {
	select {
	case it := <-q.ch:
		return it.event, it.drain, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int { return len(q.ch) }
