package store

import (
	"sync"

	"go.uber.org/zap"

	"wardwatch/internal/model"
)

// ChangeKind identifies what mutated, so subscribers can skip work they
// don't care about (the stats widget ignores event-list changes and so on).
type ChangeKind string

const (
	ChangeEvents ChangeKind = "events"
	ChangeStats  ChangeKind = "stats"
	ChangeEvent  ChangeKind = "event"
)

// Change is the notification fanned out to subscribers. For single-event
// changes the event rides along so SSE surfaces can forward it directly.
type Change struct {
	Kind  ChangeKind
	Event *model.Event
}

// FetchState distinguishes the dashboard's loading / not-authenticated /
// failed / empty-but-fine conditions, which must never collapse into one
// generic error.
type FetchState string

const (
	StateLoading     FetchState = "loading"
	StateReady       FetchState = "ready"
	StateNoAuth      FetchState = "no_auth"
	StateFetchFailed FetchState = "fetch_failed"
)

// Store is the session-scoped observable holding the merged dashboard view:
// the authoritative event list (owned by the snapshot poller) and the
// aggregate stats (owned by the archive). Many readers, few writers; every
// write is visible to all subscribers without manual refresh.
//
// Subscribers get per-subscriber buffered channels; a slow subscriber drops
// notifications rather than blocking a writer. That is safe because every
// notification is a cue to re-read current state, not a payload ledger.
type Store struct {
	mu          sync.RWMutex
	events      []model.Event
	stats       *model.DashboardStats
	fetchState  FetchState
	subscribers map[uint64]chan Change
	nextID      uint64
	bufferSize  int
	logger      *zap.Logger
}

func New(logger *zap.Logger) *Store {
	return &Store{
		fetchState:  StateLoading,
		subscribers: make(map[uint64]chan Change),
		bufferSize:  32,
		logger:      logger,
	}
}

// SetEvents fully replaces the authoritative event list. Used by the
// snapshot poller; never merges with the previous list.
func (s *Store) SetEvents(events []model.Event) {
	s.mu.Lock()
	s.events = make([]model.Event, len(events))
	copy(s.events, events)
	s.fetchState = StateReady
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeEvents})
}

// SetStats fully replaces the aggregate counters
func (s *Store) SetStats(stats model.DashboardStats) {
	s.mu.Lock()
	s.stats = &stats
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeStats})
}

// AddEvent prepends one event, reflecting a live detection before the next
// snapshot lands
func (s *Store) AddEvent(ev model.Event) {
	s.mu.Lock()
	s.events = append([]model.Event{ev}, s.events...)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeEvent, Event: &ev})
}

// UpdateEventStatus replaces the disposition of the event with the given id.
// Unknown ids are a silent no-op: the poller may have already replaced the
// list out from under the caller.
func (s *Store) UpdateEventStatus(id string, handled bool, note *string) {
	s.mu.Lock()
	found := false
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Handled = handled
			s.events[i].Note = note
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.publish(Change{Kind: ChangeEvents})
	}
}

// SetFetchState records why the event list is (or is not) populated
func (s *Store) SetFetchState(state FetchState) {
	s.mu.Lock()
	changed := s.fetchState != state
	s.fetchState = state
	s.mu.Unlock()

	if changed {
		s.publish(Change{Kind: ChangeEvents})
	}
}

// Events returns a copy of the authoritative list, newest first
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Stats returns the current aggregate counters, nil until the first load
func (s *Store) Stats() *model.DashboardStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stats == nil {
		return nil
	}
	statsCopy := *s.stats
	return &statsCopy
}

func (s *Store) FetchState() FetchState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchState
}

// UnhandledCount is the number surfaced on the notification badge
func (s *Store) UnhandledCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CountUnhandled(s.events)
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Cancel is idempotent and closes the channel.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Change, s.bufferSize)
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SubscriberCount reports active listeners, exposed for health reporting
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *Store) publish(c Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- c:
		default:
			// Slow subscriber: drop rather than block writers
			if s.logger != nil {
				s.logger.Debug("store notification dropped", zap.Uint64("subscriber", id))
			}
		}
	}
}
