package feed

import (
	"context"

	"spotbot/pkg/logx"
)

const (
	// DefaultPageSize is how many items one feed page carries.
	DefaultPageSize = 200
	// DefaultMaxPages bounds one candidate sweep.
	DefaultMaxPages = 10
)

type FetcherConfig struct {
	PageSize int // items per page; 0 means DefaultPageSize
	MaxPages int // page budget per sweep; 0 means DefaultMaxPages
}

// Fetcher accumulates publishable candidate items across feed pages.
type Fetcher struct {
	client   Client
	pageSize int
	maxPages int
	log      logx.Logger
}

func NewFetcher(client Client, cfg FetcherConfig, log logx.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{client: client, pageSize: cfg.PageSize, maxPages: cfg.MaxPages, log: log}
}

// FetchCandidates pulls pages newest-first until the feed is exhausted (short
// page) or the page budget is spent, dropping items without a usable photo.
//
// maxPages overrides the sweep's page budget when > 0 (per-tenant setting).
//
// A page failure after at least one successful page returns the partial
// accumulation as success: a transient failure on page 3 should not discard
// pages 1-2. Only a first-page failure propagates.
func (f *Fetcher) FetchCandidates(ctx context.Context, projectID string, maxPages int) ([]Item, error) {
	budget := f.maxPages
	if maxPages > 0 {
		budget = maxPages
	}

	var items []Item
	for page := 1; page <= budget; page++ {
		batch, err := f.client.FetchPage(ctx, projectID, page, f.pageSize)
		if err != nil {
			if page > 1 {
				f.log.Warn("feed page failed, keeping earlier pages",
					logx.String("project", projectID),
					logx.Int("page", page),
					logx.Err(err),
				)
				return items, nil
			}
			return nil, err
		}

		for _, it := range batch {
			if it.HasPhoto() {
				items = append(items, it)
			}
		}

		if len(batch) < f.pageSize {
			break
		}
	}

	f.log.Debug("candidate sweep complete",
		logx.String("project", projectID),
		logx.Int("candidates", len(items)),
	)
	return items, nil
}
