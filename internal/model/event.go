package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEvent marks a stream frame or API record that could not be
// decoded into a complete Event. Single malformed records are always
// recoverable: callers drop the record and keep going.
var ErrMalformedEvent = errors.New("malformed event payload")

// Event kinds emitted by the analysis backend. The enumeration is open:
// the backend ships new detectors ahead of dashboard releases, so unknown
// kinds must render with a fallback label instead of failing.
const (
	EventFall     = "fall"
	EventBedsore  = "bedsore"
	EventBedEmpty = "bed_empty"
)

// BadgeKind is the presentation tag the dashboard uses to colour an event
type BadgeKind string

const (
	BadgeDestructive BadgeKind = "destructive"
	BadgeWarning     BadgeKind = "warning"
	BadgeSecondary   BadgeKind = "secondary"
	BadgeDefault     BadgeKind = "default"
)

// Event is a single detected safety condition tied to a bed, a camera and
// (when the bed is assigned) a patient. Events are immutable once received:
// disposition changes arrive as full re-sent records, never as diffs.
type Event struct {
	ID            string  `json:"_id"`
	BedID         string  `json:"bed_id"`
	CCTVID        string  `json:"cctv_id"`
	PatientID     *string `json:"patient_id"`
	EventType     string  `json:"event_type"`
	Handled       bool    `json:"handled"`
	Note          *string `json:"note"`
	ClipURL       *string `json:"clip_url"`
	ScreenshotURL *string `json:"screenshot_url"`
	OccurredAt    string  `json:"occurred_at"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// DecodeEvent strictly decodes one JSON record into an Event. A record
// without an id is rejected: a half-populated event is worse than a dropped
// one because it would poison dedup and navigation downstream.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" {
		return Event{}, fmt.Errorf("%w: missing _id", ErrMalformedEvent)
	}
	return ev, nil
}

// IsHandled reports the operator disposition. A zero-valued field (the
// backend occasionally omits it) counts as unhandled, which is the safe
// direction for a notification badge.
func (e Event) IsHandled() bool {
	return e.Handled
}

// OccurredTime parses the occurrence timestamp, which is authoritative for
// display and sorting. Falls back to the zero time on unparseable input.
func (e Event) OccurredTime() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, e.OccurredAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Classify maps the raw event kind to its presentation badge and localized
// label. Unknown kinds pass through with the default badge; this never fails.
func Classify(e Event) (BadgeKind, string) {
	switch e.EventType {
	case EventFall:
		return BadgeDestructive, "낙상 감지"
	case EventBedsore:
		return BadgeWarning, "욕창 감지"
	case EventBedEmpty:
		return BadgeSecondary, "침대 비움"
	default:
		return BadgeDefault, e.EventType
	}
}

// CountUnhandled returns the number of events an operator has not yet
// acknowledged; it backs the notification badge counter.
func CountUnhandled(events []Event) int {
	n := 0
	for _, e := range events {
		if !e.IsHandled() {
			n++
		}
	}
	return n
}
