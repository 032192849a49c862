package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardwatch/internal/model"
)

func TestRecordBuffersRows(t *testing.T) {
	a := NewEventArchive(nil)

	patient := "p-1"
	note := "checked"
	a.Record(model.Event{
		ID:         "e1",
		BedID:      "bed-1",
		CCTVID:     "cam-1",
		PatientID:  &patient,
		EventType:  model.EventFall,
		Handled:    true,
		Note:       &note,
		OccurredAt: "2026-08-30T10:00:00Z",
	})
	a.Record(model.Event{ID: "e2", EventType: model.EventBedsore})

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.pending, 2)

	row := a.pending[0]
	assert.Equal(t, "e1", row[0])
	assert.Equal(t, "p-1", row[3])
	assert.Equal(t, model.EventFall, row[4])
	assert.Equal(t, uint8(1), row[5])
	assert.Equal(t, "checked", row[6])
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), row[7].(time.Time).UTC())

	// Nil optionals archive as empty strings, not panics
	row = a.pending[1]
	assert.Equal(t, "", row[3])
	assert.Equal(t, uint8(0), row[5])
	assert.Equal(t, "", row[6])
}

func TestRecordNeverInsertsOnCallerGoroutine(t *testing.T) {
	// The flusher was never started and the client is nil, so any insert
	// attempted from Record itself would panic. Filling the buffer well
	// past the batch threshold must only signal the flusher.
	a := NewEventArchive(nil)

	require.NotPanics(t, func() {
		for i := 0; i < flushSize*2; i++ {
			a.Record(model.Event{ID: "e1", EventType: model.EventFall})
		}
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.pending, flushSize*2)
}

func TestUnparseableOccurredAtFallsBackToNow(t *testing.T) {
	a := NewEventArchive(nil)

	before := time.Now().UTC()
	a.Record(model.Event{ID: "e3", OccurredAt: "not-a-timestamp"})

	a.mu.Lock()
	defer a.mu.Unlock()
	occurred := a.pending[0][7].(time.Time)
	assert.False(t, occurred.Before(before))
}
