package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"job-feed-importer/internal/config"
	"job-feed-importer/internal/models"
	"job-feed-importer/internal/queue"
	"job-feed-importer/internal/telemetry"
)

// Queue is the consumer side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, delay time.Duration) error
	DeadLetter(ctx context.Context, id string) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// RunLog is the reconciliation surface of the import log store. Increments and
// appends must be atomic on the store side; the pool never reads-modifies-writes.
type RunLog interface {
	RecordNew(ctx context.Context, runID string) error
	RecordUpdated(ctx context.Context, runID string) error
	AppendFailure(ctx context.Context, runID string, f models.ImportFailure) error
	TryComplete(ctx context.Context, runID string) (bool, error)
}

// Pool drives bounded concurrent consumption of the queue and reconciles
// processor outcomes into the owning import run.
type Pool struct {
	cfg       config.Config
	queue     Queue
	runs      RunLog
	processor *Processor
	log       *zap.Logger
}

func NewPool(cfg config.Config, q Queue, runs RunLog, processor *Processor, log *zap.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		queue:     q,
		runs:      runs,
		processor: processor,
		log:       log,
	}
}

// Run starts the worker goroutines plus a janitor loop and blocks until the
// context is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	concurrency := p.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitor(ctx)
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.consume(ctx, id)
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

// janitor promotes due retries, reclaims expired leases, and samples queue depth.
func (p *Pool) janitor(ctx context.Context) {
	interval := p.cfg.WorkerPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if _, err := p.queue.PromoteScheduled(ctx, now, 100); err != nil && ctx.Err() == nil {
			p.log.Warn("promote scheduled failed", zap.Error(err))
		}
		if reclaimed, err := p.queue.RequeueExpired(ctx, now, 100); err == nil && len(reclaimed) > 0 {
			p.log.Warn("reclaimed expired leases", zap.Int("count", len(reclaimed)))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
	}
}

func (p *Pool) consume(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("dequeue failed", zap.Int("worker", workerID), zap.Error(err))
			}
			p.sleep(ctx)
			continue
		}
		if delivery == nil {
			p.sleep(ctx)
			continue
		}
		p.handle(ctx, delivery)
	}
}

// handle applies one delivery and reconciles the outcome. Reconciliation runs
// before the ack, so a crash between the two redelivers the message. The upsert
// absorbs the duplicate apply, but the run counters increment again on the
// redelivery, so totals can over-count under at-least-once delivery.
func (p *Pool) handle(ctx context.Context, d *queue.Delivery) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	msg := d.Message
	outcome, err := p.processor.Apply(ctx, msg.Record)
	if err != nil {
		p.fail(ctx, d, err)
		return
	}

	switch outcome.Status {
	case OutcomeNew:
		err = p.runs.RecordNew(ctx, msg.RunID)
		telemetry.RecordsNew.Inc()
	case OutcomeUpdated:
		err = p.runs.RecordUpdated(ctx, msg.RunID)
		telemetry.RecordsUpdated.Inc()
	case OutcomeInvalid:
		err = p.runs.AppendFailure(ctx, msg.RunID, models.ImportFailure{
			Record:    msg.Record,
			Reason:    outcome.Reason,
			Timestamp: time.Now().UTC(),
		})
		telemetry.RecordsInvalid.Inc()
	}
	if err != nil {
		p.fail(ctx, d, err)
		return
	}

	if err := p.queue.Ack(ctx, d.ID); err != nil {
		p.log.Warn("ack failed", zap.String("message", d.ID), zap.Error(err))
	}
	p.tryComplete(ctx, msg.RunID)
}

// fail routes a processing error through the retry budget. Exhausted messages
// become permanent failure entries on the run and land in the dead-letter list.
func (p *Pool) fail(ctx context.Context, d *queue.Delivery, cause error) {
	msg := d.Message
	if d.Attempt < p.cfg.MaxAttempts {
		delay := backoffDelay(p.cfg.BackoffBase, p.cfg.BackoffMax, d.Attempt)
		if err := p.queue.Retry(ctx, d.ID, delay); err != nil {
			p.log.Error("retry scheduling failed", zap.String("message", d.ID), zap.Error(err))
			return
		}
		telemetry.RecordsRetried.Inc()
		p.log.Warn("record processing failed, retrying",
			zap.String("run", msg.RunID),
			zap.String("external_id", msg.Record.ExternalID),
			zap.Int("attempt", d.Attempt),
			zap.Duration("delay", delay),
			zap.Error(cause))
		return
	}

	failure := models.ImportFailure{
		Record:    msg.Record,
		Reason:    fmt.Sprintf("processing failed after %d attempts: %v", d.Attempt, cause),
		Timestamp: time.Now().UTC(),
	}
	if err := p.runs.AppendFailure(ctx, msg.RunID, failure); err != nil {
		p.log.Error("append permanent failure failed", zap.String("run", msg.RunID), zap.Error(err))
	}
	if err := p.queue.DeadLetter(ctx, d.ID); err != nil {
		p.log.Error("dead-letter failed", zap.String("message", d.ID), zap.Error(err))
	}
	telemetry.RecordsDeadLetter.Inc()
	p.log.Error("record abandoned",
		zap.String("run", msg.RunID),
		zap.String("external_id", msg.Record.ExternalID),
		zap.Int("attempts", d.Attempt),
		zap.Error(cause))
	p.tryComplete(ctx, msg.RunID)
}

func (p *Pool) tryComplete(ctx context.Context, runID string) {
	flipped, err := p.runs.TryComplete(ctx, runID)
	if err != nil {
		p.log.Warn("completion check failed", zap.String("run", runID), zap.Error(err))
		return
	}
	if flipped {
		telemetry.RunsCompleted.Inc()
		p.log.Info("import run completed", zap.String("run", runID))
	}
}

func (p *Pool) sleep(ctx context.Context) {
	interval := p.cfg.WorkerPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}

// backoffDelay doubles per attempt from base, capped at max. attempt is the
// delivery attempt that just failed, so the first retry waits base.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
