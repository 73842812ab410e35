package mirror

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and
// drained.
var ErrQueueClosed = errors.New("sync queue closed")

// Queue transports sync tasks from writers to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// ChannelQueue is the in-process queue used by single-node deployments and
// tests.
type ChannelQueue struct {
	ch        chan Task
	closeOnce sync.Once
}

func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 256
	}
	return &ChannelQueue{ch: make(chan Task, size)}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t, ok := <-q.ch:
		if !ok {
			return Task{}, ErrQueueClosed
		}
		return t, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *ChannelQueue) Close() error {
	q.closeOnce.Do(func() { close(q.ch) })
	return nil
}
