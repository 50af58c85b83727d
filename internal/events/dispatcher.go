// Package events runs side effects that must not share the caller's
// transaction: audit writes, broker publishes and refunds. Tasks are queued
// after commit and executed by a fixed pool of workers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// ErrQueueFull is returned by Dispatch when the queue has no room.
var ErrQueueFull = errors.New("dispatcher queue full")

// Task is a unit of after-commit work.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Dispatcher is a bounded worker pool. Dispatch never blocks.
type Dispatcher struct {
	jobs        chan job
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
	taskTimeout time.Duration
	logger      zerolog.Logger
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		jobs:        make(chan job, queueSize),
		taskTimeout: 30 * time.Second,
		logger:      log.With().Str("component", "dispatcher").Logger(),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	return d
}

// Dispatch queues fn under name. A full or closed queue drops the task and
// logs it; the returned error lets tests observe the drop.
func (d *Dispatcher) Dispatch(name string, fn Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Error().Str("task", name).Msg("dispatcher closed, dropping task")
		return ErrClosed
	}

	select {
	case d.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		d.logger.Error().Str("task", name).Msg("dispatcher queue full, dropping task")
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain dispatcher")
	}
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		d.run(id, j)
	}
}

func (d *Dispatcher) run(id int, j job) {
	logger := d.logger.With().Int("worker", id).Str("task", j.name).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("task failed")
		return
	}
	logger.Debug().Dur("elapsed", time.Since(start)).Msg("task completed")
}
