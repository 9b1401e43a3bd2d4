package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spotbot/internal/eventbus"
	"spotbot/internal/feed"
	"spotbot/internal/storage"
	"spotbot/internal/transport"
	"spotbot/pkg/logx"
)

// Pipeline runs one ingestion cycle for a tenant:
// fetch candidates, pick one fairly, publish, then record it as seen.
type Pipeline struct {
	fetcher  *feed.Fetcher
	selector *Selector
	store    storage.Store
	pub      transport.Publisher
	bus      eventbus.Bus
	log      logx.Logger
}

func NewPipeline(
	fetcher *feed.Fetcher,
	selector *Selector,
	store storage.Store,
	pub transport.Publisher,
	bus eventbus.Bus,
	log logx.Logger,
) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		fetcher:  fetcher,
		selector: selector,
		store:    store,
		pub:      pub,
		bus:      bus,
		log:      log,
	}
}

// Run executes one cycle. A clean "nothing new to show" is not an error.
//
// The seen record is written only after a successful publish, so a publish
// failure leaves the item eligible for the next cycle. A crash between the
// two steps can cause one duplicate post later; that is the accepted trade.
func (p *Pipeline) Run(ctx context.Context, t storage.Tenant) error {
	start := time.Now()
	log := p.log.With(logx.String("tenant", t.ID), logx.String("project", t.ProjectID))
	p.publish(eventbus.Event{Type: eventbus.TypeRunStarted, TenantID: t.ID})

	err := p.run(ctx, t, log)

	p.publish(eventbus.Event{
		Type:     eventbus.TypeRunFinished,
		TenantID: t.ID,
		Data:     RunResult{Err: err, Took: time.Since(start)},
	})
	return err
}

// RunResult is attached to run-finished events.
type RunResult struct {
	Err  error
	Took time.Duration
}

func (p *Pipeline) run(ctx context.Context, t storage.Tenant, log logx.Logger) error {
	candidates, err := p.fetcher.FetchCandidates(ctx, t.ProjectID, t.Pages)
	if err != nil {
		return fmt.Errorf("fetching candidates: %w", err)
	}

	item, err := p.selector.Select(ctx, t.ID, candidates)
	if errors.Is(err, ErrNothingNew) {
		log.Info("nothing new to show")
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.pub.SendToChannel(ctx, t.Channel, buildContent(item)); err != nil {
		// The item was not marked seen, so it stays eligible next cycle.
		return fmt.Errorf("publishing item %s to %s: %w", item.ID, t.Channel, err)
	}

	log.Info("posted item",
		logx.String("item", string(item.ID)),
		logx.String("owner", string(item.OwnerID)),
	)
	p.publish(eventbus.Event{Type: eventbus.TypeItemPosted, TenantID: t.ID, Data: string(item.ID)})

	if err := p.store.MarkSeen(ctx, t.ID, string(item.ID)); err != nil {
		// Already published; a repeat on a later cycle beats failing the run.
		log.Warn("could not record item as seen, duplicate post possible",
			logx.String("item", string(item.ID)),
			logx.Err(err),
		)
	}
	return nil
}

func (p *Pipeline) publish(e eventbus.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

func buildContent(item feed.Item) transport.Content {
	c := transport.Content{
		Text:     fmt.Sprintf("%s has spotted something new!", ownerLabel(item)),
		ImageURL: item.Photos[0].URL,
		Fields: []transport.Field{
			{Name: "Species", Value: item.DisplayLabel()},
		},
	}
	return c
}

func ownerLabel(item feed.Item) string {
	if item.OwnerName != "" {
		return item.OwnerName
	}
	return string(item.OwnerID)
}
