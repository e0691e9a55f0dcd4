package pipeline

import (
	"context"
	"errors"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// ErrShutdown is returned by Open once the coordinator is shutting down
var ErrShutdown = errors.New("coordinator shut down")

// worker processes one call's chunks strictly in arrival order
type worker struct {
	callID string
	chunks chan types.AudioChunk
	stop   chan struct{}
}

// Open starts the worker for a call
func (c *Coordinator) Open(callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return ErrShutdown
	}
	if _, exists := c.workers[callID]; exists {
		return types.ErrAlreadyExists
	}

	w := &worker{
		callID: callID,
		chunks: make(chan types.AudioChunk, c.opts.QueueSize),
		stop:   make(chan struct{}),
	}
	c.workers[callID] = w
	c.wg.Add(1)
	go c.run(w)

	c.logger.Debug().Str("call_id", callID).Msg("pipeline worker started")
	return nil
}

func (c *Coordinator) run(w *worker) {
	defer c.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case chunk := <-w.chunks:
			// Close wins over queued chunks
			select {
			case <-w.stop:
				return
			default:
			}
			c.ProcessChunk(context.Background(), chunk)
		}
	}
}

// Submit queues a chunk for its call without blocking
func (c *Coordinator) Submit(chunk types.AudioChunk) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, ok := c.workers[chunk.CallID]
	if !ok {
		c.metrics.ChunksRejected.WithLabelValues("no_worker").Inc()
		return types.ErrNotFound
	}
	if chunk.ReceivedAt.IsZero() {
		chunk.ReceivedAt = c.now()
	}

	select {
	case w.chunks <- chunk:
		return nil
	default:
		c.metrics.ChunksRejected.WithLabelValues("queue_full").Inc()
		return types.ErrQueueFull
	}
}

// Close stops future processing for a call. A chunk already in flight
// finishes on its own; queued chunks are dropped.
func (c *Coordinator) Close(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[callID]
	if !ok {
		return
	}
	delete(c.workers, callID)
	close(w.stop)
	c.logger.Debug().Str("call_id", callID).Msg("pipeline worker stopped")
}

// Active reports how many calls have a running worker
func (c *Coordinator) Active() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.workers)
}

// Shutdown stops every worker and waits for in-flight chunks to finish
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	for id, w := range c.workers {
		close(w.stop)
		delete(c.workers, id)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info().Msg("pipeline workers drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
