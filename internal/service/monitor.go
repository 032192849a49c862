package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/archive"
	"wardwatch/internal/audit"
	"wardwatch/internal/config"
	"wardwatch/internal/model"
	"wardwatch/internal/store"
	"wardwatch/internal/upstream"
	"wardwatch/internal/util"
)

// EventIndexer feeds the search index, normally *search.Service. Indexing
// runs on its own worker so a slow index never holds up ingestion.
type EventIndexer interface {
	IndexEvent(ctx context.Context, ev model.Event) error
}

const indexQueueSize = 256

// Monitor owns the live ingestion pipeline: the SSE stream client, its
// reconnect loop, the snapshot poller, and the fan-out of received events
// to the store, archive, audit topic and search index.
type Monitor struct {
	cfg       config.MonitorConfig
	upstream  *upstream.Client
	streamURL string
	store     *store.Store
	creds     *Credentials
	poller    *Poller
	logger    *zap.Logger

	// Optional sinks; nil when the backing service is disabled
	archive    *archive.EventArchive
	audit      *audit.Publisher
	search     EventIndexer
	indexQueue chan model.Event

	mu     sync.Mutex
	recent []model.Event
	stream *upstream.StreamClient

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(cfg *config.Config, client *upstream.Client, st *store.Store, stats StatsSource, logger *zap.Logger) *Monitor {
	creds := NewCredentials()
	m := &Monitor{
		cfg:       cfg.Monitor,
		upstream:  client,
		streamURL: client.EventStreamURL(cfg.Upstream.StreamPath),
		store:     st,
		creds:     creds,
		logger:    logger,
	}
	m.poller = NewPoller(client, st, creds, stats, cfg.Monitor.PollInterval, cfg.Monitor.SnapshotLimit, logger)
	return m
}

// WithArchive attaches the ClickHouse archive sink
func (m *Monitor) WithArchive(a *archive.EventArchive) *Monitor {
	m.archive = a
	return m
}

// WithAudit attaches the Kafka audit sink
func (m *Monitor) WithAudit(p *audit.Publisher) *Monitor {
	m.audit = p
	return m
}

// WithSearch attaches the Elasticsearch indexing sink
func (m *Monitor) WithSearch(s EventIndexer) *Monitor {
	m.search = s
	m.indexQueue = make(chan model.Event, indexQueueSize)
	return m
}

// Start launches the poller and the stream reconnect loop
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.poller.Run(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.streamLoop(ctx)
	}()
	if m.search != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.indexLoop(ctx)
		}()
	}

	util.Info("Ward monitor started",
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Int("recent_buffer", m.cfg.RecentBufferSize))
}

// Stop tears down both workers and the live connection
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.closeStream()
	m.wg.Wait()
	util.Info("Ward monitor stopped")
}

// SetCredential installs a fresh upstream token. The stream loop restarts
// its connection with the new token; the next poll uses it immediately.
func (m *Monitor) SetCredential(token string) {
	m.creds.Set(token)
	m.closeStream()
	m.poller.FetchNow()
}

// ClearCredential drops the token on logout. The store moves to the
// no-auth state on the next poll; straggler responses are discarded.
func (m *Monitor) ClearCredential() {
	m.creds.Clear()
	m.closeStream()
	m.store.SetFetchState(store.StateNoAuth)
}

// RecentEvents returns the newest-first live buffer. Unlike a single
// connection's buffer this survives reconnects.
func (m *Monitor) RecentEvents() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, len(m.recent))
	copy(out, m.recent)
	return out
}

// ClearRecent empties the live buffer without touching the connection
func (m *Monitor) ClearRecent() {
	m.mu.Lock()
	m.recent = nil
	m.mu.Unlock()
	if sc := m.currentStream(); sc != nil {
		sc.Clear()
	}
}

// Connected reports whether a live stream is currently open
func (m *Monitor) Connected() bool {
	return m.currentStream() != nil
}

func (m *Monitor) streamLoop(ctx context.Context) {
	backoff := m.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		// Snapshot the change channel before reading the token: a Set
		// landing in between closes this channel, not a later one, so the
		// waits below can never sleep through a fresh credential.
		changed := m.creds.Changed()

		token, _ := m.creds.Get()
		if token == "" {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
			continue
		}

		sc, err := upstream.OpenStream(ctx, m.streamURL, token, m.cfg.RecentBufferSize, m.handleEvent, m.logger)
		if err != nil {
			var httpErr *upstream.HTTPError
			if errors.As(err, &httpErr) && (httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden) {
				util.Warn("Stream handshake rejected, clearing credential", zap.Int("status", httpErr.Status))
				m.creds.Clear()
				m.store.SetFetchState(store.StateNoAuth)
				continue
			}
			util.Warn("Stream connect failed",
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.cfg.ReconnectMax)
			continue
		}

		m.setStream(sc)
		connectedAt := time.Now()
		util.Info("Event stream connected", zap.String("url", m.streamURL))

		select {
		case <-ctx.Done():
			sc.Close()
			return
		case <-changed:
			// Token replaced or cleared; reconnect with the new state
			sc.Close()
			<-sc.Done()
		case <-sc.Done():
			select {
			case err := <-sc.Err():
				util.Warn("Event stream terminated", zap.Error(err))
			default:
				util.Info("Event stream closed")
			}
		}
		m.setStream(nil)

		// A connection that held for a while earns a fresh backoff
		if time.Since(connectedAt) > m.cfg.ReconnectMax {
			backoff = m.cfg.ReconnectMin
		} else {
			backoff = nextBackoff(backoff, m.cfg.ReconnectMax)
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

// handleEvent is the stream sink: one decoded event fans out to every
// attached consumer. It runs on the SSE reader goroutine, so nothing here
// may wait on a backend: the archive and audit writers only buffer, and
// search indexing is handed to the index worker.
func (m *Monitor) handleEvent(ev model.Event) {
	m.mu.Lock()
	m.recent = append([]model.Event{ev}, m.recent...)
	if len(m.recent) > m.cfg.RecentBufferSize {
		m.recent = m.recent[:m.cfg.RecentBufferSize]
	}
	m.mu.Unlock()

	m.store.AddEvent(ev)

	if m.archive != nil {
		m.archive.Record(ev)
	}

	if m.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.audit.EventReceived(ctx, ev)
		cancel()
	}

	if m.search != nil {
		select {
		case m.indexQueue <- ev:
		default:
			// The snapshot archive still has the event; losing a search
			// document beats stalling live alerts
			util.Warn("Search index queue full, dropping event",
				zap.String("event_id", ev.ID))
		}
	}
}

// indexLoop drains the search queue one event at a time. Index failures
// log and drop; the document can be rebuilt from the archive.
func (m *Monitor) indexLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.indexQueue:
			ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.search.IndexEvent(ictx, ev); err != nil {
				util.Warn("Event search indexing failed",
					zap.String("event_id", ev.ID),
					zap.Error(err))
			}
			cancel()
		}
	}
}

func (m *Monitor) setStream(sc *upstream.StreamClient) {
	m.mu.Lock()
	m.stream = sc
	m.mu.Unlock()
}

func (m *Monitor) currentStream() *upstream.StreamClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *Monitor) closeStream() {
	if sc := m.currentStream(); sc != nil {
		sc.Close()
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
