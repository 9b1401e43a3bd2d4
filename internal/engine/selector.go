package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"spotbot/internal/feed"
	"spotbot/internal/storage"
	"spotbot/pkg/logx"
)

// ErrNothingNew means every candidate has already been shown for this tenant.
var ErrNothingNew = errors.New("no unseen items to show")

// Selector picks the next item to post for a tenant.
//
// Picking uniformly over all unseen items over-represents owners who post a
// lot. Instead we group unseen items by owner, pick an owner at random among
// those not shown recently, then pick one of that owner's items. Each owner
// gets an equal chance per round; the rolling exclusion set bounds the
// cooldown to one full rotation of owners.
//
// The exclusion sets are in-memory only. After a restart fairness degrades to
// plain per-owner randomness until the sets refill, which is acceptable.
type Selector struct {
	store storage.Store
	log   logx.Logger

	mu     sync.Mutex
	recent map[string]map[feed.ID]struct{} // tenant -> owners shown this rotation
}

func NewSelector(store storage.Store, log logx.Logger) *Selector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Selector{
		store:  store,
		log:    log,
		recent: map[string]map[feed.ID]struct{}{},
	}
}

// Select returns one unseen item for the tenant, or ErrNothingNew.
func (s *Selector) Select(ctx context.Context, tenantID string, candidates []feed.Item) (feed.Item, error) {
	if len(candidates) == 0 {
		return feed.Item{}, ErrNothingNew
	}

	ids := make([]string, 0, len(candidates))
	for _, it := range candidates {
		ids = append(ids, string(it.ID))
	}

	unseenIDs, err := s.store.FindUnseen(ctx, tenantID, ids)
	if err != nil {
		return feed.Item{}, fmt.Errorf("selecting unseen items: %w", err)
	}
	unseen := make(map[string]struct{}, len(unseenIDs))
	for _, id := range unseenIDs {
		unseen[id] = struct{}{}
	}

	byOwner := map[feed.ID][]feed.Item{}
	for _, it := range candidates {
		if _, ok := unseen[string(it.ID)]; ok {
			byOwner[it.OwnerID] = append(byOwner[it.OwnerID], it)
		}
	}

	s.log.Debug("candidate pool",
		logx.String("tenant", tenantID),
		logx.Int("candidates", len(candidates)),
		logx.Int("unseen", len(unseenIDs)),
		logx.Int("owners", len(byOwner)),
	)

	if len(byOwner) == 0 {
		return feed.Item{}, ErrNothingNew
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.recent[tenantID]
	if recent == nil {
		recent = map[feed.ID]struct{}{}
		s.recent[tenantID] = recent
	}

	eligible := make([]feed.ID, 0, len(byOwner))
	for owner := range byOwner {
		if _, shown := recent[owner]; !shown {
			eligible = append(eligible, owner)
		}
	}
	// Every remaining owner had a turn: start a new rotation.
	if len(eligible) == 0 {
		clear(recent)
		for owner := range byOwner {
			eligible = append(eligible, owner)
		}
	}

	owner := eligible[rand.IntN(len(eligible))]
	items := byOwner[owner]
	item := items[rand.IntN(len(items))]
	recent[owner] = struct{}{}

	return item, nil
}
