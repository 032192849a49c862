package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/model"
	"wardwatch/internal/store"
	"wardwatch/internal/upstream"
	"wardwatch/internal/util"
)

// StatsSource supplies the aggregate KPI counters, normally the ClickHouse
// archive. Nil when the archive is disabled.
type StatsSource interface {
	Stats24h(ctx context.Context) (*model.DashboardStats, error)
}

// Poller refreshes the reconciliation store from the upstream's
// authoritative event list on a fixed cadence. Each successful poll fully
// replaces the store contents; the live stream only fills the gaps between
// polls.
type Poller struct {
	upstream *upstream.Client
	store    *store.Store
	creds    *Credentials
	stats    StatsSource

	interval      time.Duration
	snapshotLimit int
	trigger       chan struct{}
	logger        *zap.Logger
}

func NewPoller(client *upstream.Client, st *store.Store, creds *Credentials, stats StatsSource, interval time.Duration, snapshotLimit int, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if snapshotLimit <= 0 {
		snapshotLimit = 100
	}
	return &Poller{
		upstream:      client,
		store:         st,
		creds:         creds,
		stats:         stats,
		interval:      interval,
		snapshotLimit: snapshotLimit,
		trigger:       make(chan struct{}, 1),
		logger:        logger,
	}
}

// FetchNow requests an out-of-cadence poll, used right after login so the
// dashboard does not sit on a stale view for a full tick. Coalesces when a
// request is already pending.
func (p *Poller) FetchNow() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled. The first poll happens
// immediately so a fresh login is not stuck on "loading" for a full tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-p.trigger:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	token, gen := p.creds.Get()

	events, err := p.upstream.FetchEvents(ctx, token, 0, p.snapshotLimit)

	// A response that raced a logout or re-login must not clobber the
	// store: the credential that produced it is already gone.
	if p.creds.Generation() != gen {
		util.Debug("Discarding stale poll response")
		return
	}

	switch {
	case errors.Is(err, upstream.ErrNoCredential):
		p.store.SetFetchState(store.StateNoAuth)
		return
	case errors.Is(err, upstream.ErrUnauthorized):
		util.Warn("Upstream rejected poll credential, clearing it")
		p.creds.Clear()
		p.store.SetFetchState(store.StateNoAuth)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		util.Error("Event poll failed", zap.Error(err))
		p.store.SetFetchState(store.StateFetchFailed)
		return
	}

	p.store.SetEvents(events)
	p.refreshStats(ctx)
}

func (p *Poller) refreshStats(ctx context.Context) {
	if p.stats == nil {
		return
	}
	stats, err := p.stats.Stats24h(ctx)
	if err != nil {
		util.Warn("Stats refresh failed", zap.Error(err))
		return
	}
	p.store.SetStats(*stats)
}
