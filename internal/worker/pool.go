package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/infrastructure/queue"
)

// Pool manages the broker consumers that run queued chat jobs.
type Pool struct {
	workers     []*Worker
	consumer    queue.Consumer
	runner      chat.Starter
	queueName   string
	workerCount int
	retryDelay  time.Duration
	stopTimeout time.Duration
	log         zerolog.Logger
	wg          sync.WaitGroup
}

// Config contains worker pool configuration.
type Config struct {
	Queue       string
	WorkerCount int
	// RetryDelay is the pause before a worker reconnects after its consumer failed.
	RetryDelay time.Duration
	// StopTimeout bounds how long Stop waits for consumers to return.
	StopTimeout time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	consumer queue.Consumer,
	runner chat.Starter,
	cfg Config,
	log zerolog.Logger,
) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	return &Pool{
		consumer:    consumer,
		runner:      runner,
		queueName:   cfg.Queue,
		workerCount: cfg.WorkerCount,
		retryDelay:  cfg.RetryDelay,
		stopTimeout: cfg.StopTimeout,
		log:         log.With().Str("component", "worker-pool").Logger(),
	}
}

// Start launches all workers. They run until ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.workers = make([]*Worker, p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		worker := NewWorker(i+1, p.consumer, p.runner, p.queueName, p.retryDelay, p.log)
		p.workers[i] = worker

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	p.log.Info().Int("worker_count", p.workerCount).Str("queue", p.queueName).Msg("worker pool started")
	return nil
}

// Stop cancels every consumer and waits for them up to the stop timeout. Jobs that were
// already handed to the runner keep running; see chat.Runner.Wait.
func (p *Pool) Stop() {
	for _, worker := range p.workers {
		worker.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("worker pool stopped")
	case <-time.After(p.stopTimeout):
		p.log.Warn().Dur("timeout", p.stopTimeout).Msg("worker pool shutdown timed out")
	}
}
