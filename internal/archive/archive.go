package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/client"
	"wardwatch/internal/model"
	"wardwatch/internal/util"
)

const (
	eventsTable = "ward_events"

	flushInterval = 5 * time.Second
	flushSize     = 64
)

// EventArchive persists every event the gateway sees into ClickHouse.
// Inserts are buffered and flushed in batches; the archive is best-effort
// and never blocks the live path.
type EventArchive struct {
	client *client.ClickHouseClient

	mu      sync.Mutex
	pending [][]interface{}

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewEventArchive(client *client.ClickHouseClient) *EventArchive {
	return &EventArchive{
		client: client,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// EnsureSchema creates the archive table when it does not exist yet
func (a *EventArchive) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id      String,
			bed_id        String,
			cctv_id       String,
			patient_id    String,
			event_type    LowCardinality(String),
			handled       UInt8,
			note          String,
			occurred_at   DateTime64(3),
			received_at   DateTime64(3)
		)
		ENGINE = ReplacingMergeTree(received_at)
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (occurred_at, event_id)
		TTL toDateTime(occurred_at) + INTERVAL 180 DAY
	`, eventsTable)

	if err := a.client.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

// Start launches the background flusher
func (a *EventArchive) Start() {
	go a.flushLoop()
}

// Record enqueues one event for archival. Disposition updates re-record
// the same event id; ReplacingMergeTree keeps the newest row.
func (a *EventArchive) Record(ev model.Event) {
	patientID := ""
	if ev.PatientID != nil {
		patientID = *ev.PatientID
	}
	note := ""
	if ev.Note != nil {
		note = *ev.Note
	}
	handled := uint8(0)
	if ev.IsHandled() {
		handled = 1
	}

	occurred := ev.OccurredTime()
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	row := []interface{}{
		ev.ID, ev.BedID, ev.CCTVID, patientID, ev.EventType,
		handled, note, occurred, time.Now().UTC(),
	}

	a.mu.Lock()
	a.pending = append(a.pending, row)
	full := len(a.pending) >= flushSize
	a.mu.Unlock()

	// The insert itself always happens on the flusher goroutine; the
	// caller is the live ingestion path and must never wait on ClickHouse.
	if full {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
}

func (a *EventArchive) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.kick:
			a.flush()
		case <-a.stop:
			a.flush()
			return
		}
	}
}

func (a *EventArchive) flush() {
	a.mu.Lock()
	rows := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := fmt.Sprintf("INSERT INTO %s", eventsTable)
	if err := a.client.BatchInsert(ctx, query, rows); err != nil {
		util.Error("Failed to flush event archive batch",
			zap.Int("rows", len(rows)),
			zap.Error(err))
		return
	}
	util.Debug("Event archive batch flushed", zap.Int("rows", len(rows)))
}

// Stats24h aggregates the KPI counters over the trailing 24 hours
func (a *EventArchive) Stats24h(ctx context.Context) (*model.DashboardStats, error) {
	query := fmt.Sprintf(`
		SELECT
			countIf(event_type = 'fall')      AS falls,
			countIf(event_type = 'bedsore')   AS bedsores,
			countIf(event_type = 'bed_empty') AS bed_empties,
			countIf(event_type NOT IN ('fall', 'bedsore', 'bed_empty')) AS others,
			count()                           AS total,
			countIf(handled = 1)              AS resolved,
			countIf(handled = 0)              AS unresolved
		FROM (
			SELECT argMax(event_type, received_at) AS event_type,
			       argMax(handled, received_at)    AS handled
			FROM %s
			WHERE occurred_at >= now() - INTERVAL 24 HOUR
			GROUP BY event_id
		)
	`, eventsTable)

	stats := &model.DashboardStats{}
	row := a.client.QueryRow(ctx, query)
	if err := row.Scan(
		&stats.FallDetected,
		&stats.BedsoreDetected,
		&stats.BedEmptyAlerts,
		&stats.OtherEvents,
		&stats.TotalEvents24h,
		&stats.ResolvedEvents,
		&stats.UnresolvedEvents,
	); err != nil {
		return nil, fmt.Errorf("failed to query 24h stats: %w", err)
	}
	return stats, nil
}

// Close stops the flusher after a final flush
func (a *EventArchive) Close() error {
	a.stopOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
	return nil
}
