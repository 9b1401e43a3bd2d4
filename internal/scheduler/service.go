package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"spotbot/internal/eventbus"
	"spotbot/internal/storage"
	"spotbot/pkg/logx"
)

// RunFunc executes one ingestion cycle for a tenant.
type RunFunc func(ctx context.Context, t storage.Tenant) error

// Service owns one recurring job per enabled tenant.
//
// Refresh is deliberately non-incremental: stop everything, then start one
// job per currently enabled tenant. The running job set therefore always
// matches the last-loaded enabled tenant set exactly; there is no partial
// update to drift.
type Service struct {
	store storage.Store
	run   RunFunc
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	tenants map[string]storage.Tenant // last loaded settings, keyed by id

	guardMu sync.Mutex
	guards  map[string]*guard

	lastMu sync.Mutex
	last   map[string]lastRun

	// stopMu orders the stopped flag against runs.Add so Stop can wait on
	// every run that was admitted before it.
	stopMu  sync.Mutex
	stopped bool
	runs    sync.WaitGroup
}

// guard enforces at most one in-flight run per tenant.
type guard struct{ mu sync.Mutex }

type lastRun struct {
	at   time.Time
	took time.Duration
	err  error
}

// JobStatus is one row of the scheduler snapshot.
type JobStatus struct {
	TenantID string
	Schedule string
	Enabled  bool
	Next     time.Time
	LastAt   time.Time
	LastTook time.Duration
	LastErr  string
}

func New(store storage.Store, run RunFunc, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:   store,
		run:     run,
		bus:     bus,
		log:     log,
		entries: map[string]cron.EntryID{},
		tenants: map[string]storage.Tenant{},
		guards:  map[string]*guard{},
		last:    map[string]lastRun{},
	}
}

// Refresh reloads tenant settings and rebuilds the job set: every running
// job is stopped, then one job is started per enabled tenant.
func (s *Service) Refresh(ctx context.Context) error {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("loading tenant settings: %w", err)
	}

	s.mu.Lock()
	if s.cron != nil {
		// Stop scheduling new runs. In-flight runs finish on their own;
		// the per-tenant guards keep restarted jobs from overlapping them.
		s.cron.Stop()
	}

	c := cron.New()
	s.entries = make(map[string]cron.EntryID, len(tenants))
	s.tenants = make(map[string]storage.Tenant, len(tenants))
	started := 0
	for _, t := range tenants {
		t := t
		s.tenants[t.ID] = t
		if !t.Enabled {
			continue
		}
		id, err := c.AddFunc(t.Schedule, func() {
			if err := s.execute(context.Background(), t); err != nil {
				s.log.Error("scheduled run failed",
					logx.String("tenant", t.ID),
					logx.Err(err),
				)
			}
		})
		if err != nil {
			s.log.Error("invalid schedule pattern, tenant job not started",
				logx.String("tenant", t.ID),
				logx.String("pattern", t.Schedule),
				logx.Err(err),
			)
			continue
		}
		s.entries[t.ID] = id
		started++
	}
	c.Start()
	s.cron = c
	s.mu.Unlock()

	s.log.Info("scheduler refreshed",
		logx.Int("tenants", len(tenants)),
		logx.Int("jobs", started),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRefreshed, Data: started})
	}
	return nil
}

// Stop halts all recurring jobs and waits for in-flight runs (scheduled or
// on-demand) to finish. Runs requested after Stop are dropped; Stop is
// terminal, meant for process shutdown.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	s.stopMu.Lock()
	s.stopped = true
	s.stopMu.Unlock()
	s.runs.Wait()
}

// RunNow triggers one out-of-band cycle for a tenant without touching its
// schedule. A cycle already in flight for the tenant coalesces this call
// into a no-op.
func (s *Service) RunNow(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	t, ok := s.tenants[tenantID]
	s.mu.Unlock()
	if !ok {
		// Settings written after the last refresh are still runnable.
		var err error
		t, err = s.store.FindTenant(ctx, tenantID)
		if err != nil {
			return err
		}
	}
	return s.execute(ctx, t)
}

// RunAllNow triggers one cycle for every enabled tenant, in parallel across
// tenants, and waits for all of them.
func (s *Service) RunAllNow(ctx context.Context) error {
	s.mu.Lock()
	tenants := make([]storage.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if t.Enabled {
			tenants = append(tenants, t)
		}
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errM sync.Mutex
		errs []error
	)
	for _, t := range tenants {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.execute(ctx, t); err != nil {
				errM.Lock()
				errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
				errM.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// RunningJobs returns the tenant ids with an active recurring job, sorted.
func (s *Service) RunningJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot reports per-tenant job state for operational commands.
func (s *Service) Snapshot() []JobStatus {
	s.mu.Lock()
	out := make([]JobStatus, 0, len(s.tenants))
	for id, t := range s.tenants {
		js := JobStatus{TenantID: id, Schedule: t.Schedule, Enabled: t.Enabled}
		if eid, ok := s.entries[id]; ok && s.cron != nil {
			js.Next = s.cron.Entry(eid).Next
		}
		out = append(out, js)
	}
	s.mu.Unlock()

	s.lastMu.Lock()
	for i := range out {
		if lr, ok := s.last[out[i].TenantID]; ok {
			out[i].LastAt = lr.at
			out[i].LastTook = lr.took
			if lr.err != nil {
				out[i].LastErr = lr.err.Error()
			}
		}
	}
	s.lastMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (s *Service) guardFor(tenantID string) *guard {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	g, ok := s.guards[tenantID]
	if !ok {
		g = &guard{}
		s.guards[tenantID] = g
	}
	return g
}

func (s *Service) execute(ctx context.Context, t storage.Tenant) error {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		s.log.Debug("scheduler stopped, dropping run", logx.String("tenant", t.ID))
		return nil
	}
	s.runs.Add(1)
	s.stopMu.Unlock()
	defer s.runs.Done()

	g := s.guardFor(t.ID)
	if !g.mu.TryLock() {
		s.log.Debug("run already in flight, coalescing",
			logx.String("tenant", t.ID),
		)
		return nil
	}
	defer g.mu.Unlock()

	start := time.Now()
	err := s.run(ctx, t)

	s.lastMu.Lock()
	s.last[t.ID] = lastRun{at: start, took: time.Since(start), err: err}
	s.lastMu.Unlock()
	return err
}
