package feed

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"job-feed-importer/internal/config"
	"job-feed-importer/internal/models"
)

// Archiver persists raw feed payloads for audit. Archiving is best effort and
// never fails a fetch.
type Archiver interface {
	Archive(ctx context.Context, sourceURL string, payload []byte) error
}

// Client fetches feed documents and extracts candidate records. The extraction
// strategy per source is fixed at construction; unregistered sources use the
// job-feed strategy with a warning rather than failing.
type Client struct {
	http       *resty.Client
	strategies map[string]string
	archiver   Archiver
	log        *zap.Logger
}

// NewClient builds a feed client from the configured source list. archiver may
// be nil.
func NewClient(cfg config.Config, archiver Archiver, log *zap.Logger) *Client {
	strategies := make(map[string]string, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Strategy != "" {
			strategies[src.URL] = src.Strategy
		}
	}
	httpClient := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetHeader("Accept", "application/xml")
	return &Client{
		http:       httpClient,
		strategies: strategies,
		archiver:   archiver,
		log:        log,
	}
}

// Fetch retrieves one source and returns its candidate records. Transport and
// HTTP-status failures surface as *FetchError, an undecodable envelope as
// *ParseError. Malformed individual items are dropped, not fatal.
func (c *Client) Fetch(ctx context.Context, sourceURL string) ([]models.CandidateRecord, error) {
	resp, err := c.http.R().SetContext(ctx).Get(sourceURL)
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}
	if resp.IsError() {
		return nil, &FetchError{URL: sourceURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}
	body := resp.Body()

	var envelope rssEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, &ParseError{URL: sourceURL, Err: err}
	}

	extract := c.extractorFor(sourceURL)
	records := make([]models.CandidateRecord, 0, len(envelope.Channel.Items))
	dropped := 0
	for _, item := range envelope.Channel.Items {
		rec, ok := extract(item, sourceURL)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	if dropped > 0 {
		c.log.Warn("dropped feed items without usable identity",
			zap.String("source", sourceURL),
			zap.Int("dropped", dropped))
	}

	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, sourceURL, body); err != nil {
			c.log.Warn("feed archive failed",
				zap.String("source", sourceURL),
				zap.Error(err))
		}
	}

	c.log.Info("fetched feed",
		zap.String("source", sourceURL),
		zap.Int("records", len(records)))
	return records, nil
}

func (c *Client) extractorFor(sourceURL string) extractor {
	name, ok := c.strategies[sourceURL]
	if !ok {
		c.log.Warn("no extraction strategy registered for source, using job feed default",
			zap.String("source", sourceURL))
		return extractors[StrategyJobFeed]
	}
	extract, ok := extractors[name]
	if !ok {
		c.log.Warn("unknown extraction strategy, using job feed default",
			zap.String("source", sourceURL),
			zap.String("strategy", name))
		return extractors[StrategyJobFeed]
	}
	return extract
}
