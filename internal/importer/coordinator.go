package importer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"job-feed-importer/internal/config"
	"job-feed-importer/internal/models"
	"job-feed-importer/internal/telemetry"
)

// FeedClient fetches and extracts one source.
type FeedClient interface {
	Fetch(ctx context.Context, sourceURL string) ([]models.CandidateRecord, error)
}

// Enqueuer is the producer side of the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
}

// RunLog is the import log surface the coordinator writes through.
type RunLog interface {
	CreateRun(ctx context.Context, source string) (models.ImportRun, error)
	BeginProcessing(ctx context.Context, id string, totalFetched int) error
	MarkRunFailed(ctx context.Context, id string, message string) error
	MarkRunCompleted(ctx context.Context, id string, note string) error
	AppendFailure(ctx context.Context, id string, f models.ImportFailure) error
	TryComplete(ctx context.Context, id string) (bool, error)
}

// Coordinator runs one ingestion pass over the configured sources: create a log
// entry, fetch, enqueue, and hand the run to the worker pool via the queue.
// Sources are processed sequentially and independently.
type Coordinator struct {
	sources []config.Source
	feed    FeedClient
	queue   Enqueuer
	runs    RunLog
	log     *zap.Logger
}

func New(cfg config.Config, feed FeedClient, queue Enqueuer, runs RunLog, log *zap.Logger) *Coordinator {
	return &Coordinator{
		sources: cfg.Sources,
		feed:    feed,
		queue:   queue,
		runs:    runs,
		log:     log,
	}
}

// RunAll processes every configured source. A failure on one source never
// aborts the rest.
func (c *Coordinator) RunAll(ctx context.Context) {
	for _, src := range c.sources {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.runSource(ctx, src)
	}
}

func (c *Coordinator) runSource(ctx context.Context, src config.Source) {
	run, err := c.runs.CreateRun(ctx, src.URL)
	if err != nil {
		c.log.Error("create import run failed", zap.String("source", src.URL), zap.Error(err))
		return
	}
	telemetry.RunsStarted.Inc()

	records, err := c.feed.Fetch(ctx, src.URL)
	if err != nil {
		if markErr := c.runs.MarkRunFailed(ctx, run.ID, "failed to fetch jobs: "+err.Error()); markErr != nil {
			c.log.Error("mark run failed errored", zap.String("run", run.ID), zap.Error(markErr))
		}
		telemetry.RunsFailed.Inc()
		c.log.Error("feed fetch failed",
			zap.String("run", run.ID),
			zap.String("source", src.URL),
			zap.Error(err))
		return
	}

	if len(records) == 0 {
		if err := c.runs.MarkRunCompleted(ctx, run.ID, "no records fetched"); err != nil {
			c.log.Error("mark run completed errored", zap.String("run", run.ID), zap.Error(err))
		}
		telemetry.RunsCompleted.Inc()
		c.log.Info("import run had nothing to do",
			zap.String("run", run.ID),
			zap.String("source", src.URL))
		return
	}

	// total_fetched and the processing status must land before the first
	// enqueue so worker-side completion checks see the final total.
	if err := c.runs.BeginProcessing(ctx, run.ID, len(records)); err != nil {
		if markErr := c.runs.MarkRunFailed(ctx, run.ID, "failed to start processing: "+err.Error()); markErr != nil {
			c.log.Error("mark run failed errored", zap.String("run", run.ID), zap.Error(markErr))
		}
		telemetry.RunsFailed.Inc()
		return
	}

	enqueued := 0
	for _, rec := range records {
		msg := models.QueueMessage{RunID: run.ID, SourceURL: src.URL, Record: rec}
		if err := c.queue.Enqueue(ctx, msg); err != nil {
			failure := models.ImportFailure{
				Record:    rec,
				Reason:    "enqueue failed: " + err.Error(),
				Timestamp: time.Now().UTC(),
			}
			if appendErr := c.runs.AppendFailure(ctx, run.ID, failure); appendErr != nil {
				c.log.Error("append enqueue failure errored", zap.String("run", run.ID), zap.Error(appendErr))
			}
			continue
		}
		enqueued++
		telemetry.RecordsEnqueued.Inc()
	}

	// Covers the case where every record failed to enqueue, or workers drained
	// the queue before the last enqueue-failure entry landed.
	flipped, err := c.runs.TryComplete(ctx, run.ID)
	if err != nil {
		c.log.Warn("completion check failed", zap.String("run", run.ID), zap.Error(err))
	}
	if flipped {
		telemetry.RunsCompleted.Inc()
	}

	c.log.Info("import run dispatched",
		zap.String("run", run.ID),
		zap.String("source", src.URL),
		zap.Int("fetched", len(records)),
		zap.Int("enqueued", enqueued))
}
