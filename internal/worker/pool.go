// Package worker derives the medium and small tiers for uploaded images.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-photos/internal/cleanup"
	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/events"
	"github.com/tendant/simple-photos/internal/metrics"
	"github.com/tendant/simple-photos/internal/objstore"
	"github.com/tendant/simple-photos/internal/queue"
	"github.com/tendant/simple-photos/internal/store"
)

type Config struct {
	Workers      int
	RestartDelay time.Duration
	Tiers        []domain.TierSpec

	// The job is enqueued before the image row commits, so a worker may see
	// it first. It polls for the row this many times before giving up.
	VisibilityAttempts int
	VisibilityInterval time.Duration
}

type Deps struct {
	Queue   queue.Queue
	Store   store.Store
	Objects objstore.Store
	Cleaner *cleanup.Cleaner
	Events  events.Publisher
	Metrics *metrics.Metrics
}

// Pool runs Workers supervised consumers against one queue.
type Pool struct {
	cfg     Config
	queue   queue.Queue
	store   store.Store
	objects objstore.Store
	cleaner *cleanup.Cleaner
	events  events.Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewPool(cfg Config, deps Deps, log *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.VisibilityAttempts <= 0 {
		cfg.VisibilityAttempts = 1
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = domain.DefaultTierSpecs(80, 80)
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Pool{
		cfg:     cfg,
		queue:   deps.Queue,
		store:   deps.Store,
		objects: deps.Objects,
		cleaner: deps.Cleaner,
		events:  pub,
		metrics: deps.Metrics,
		log:     log,
	}
}

// Run blocks until ctx is cancelled or the queue is closed and drained.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("worker pool starting", "workers", p.cfg.Workers, "restart_delay", p.cfg.RestartDelay)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.supervise(ctx, id)
		}(i)
	}
	wg.Wait()
	p.log.Info("worker pool stopped")
}

// supervise restarts a worker after a fixed delay whenever it stops for any
// reason other than shutdown. Jobs in flight at a crash are lost.
func (p *Pool) supervise(ctx context.Context, id int) {
	log := p.log.With("worker", id)
	for {
		err := p.consume(ctx, id)
		if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
			return
		}
		log.Error("worker stopped, restarting", "err", err, "delay", p.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.RestartDelay):
		}
	}
}

func (p *Pool) consume(ctx context.Context, id int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panic: %v", id, r)
		}
	}()

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return err
			}
			if errors.Is(err, domain.ErrInvalidInput) {
				p.log.Warn("dropping malformed job", "worker", id, "err", err)
				continue
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		// Failures are logged, published and compensated inside Process.
		_ = p.Process(ctx, job)
	}
}
