package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/model"
	"wardwatch/internal/util"
)

// Producer is the message sink behind the publisher, normally
// *client.KafkaProducer
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte) error
}

// Action names recorded on the audit topic
const (
	ActionEventReceived   = "event_received"
	ActionEventReconciled = "event_reconciled"
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionCCTVCreated     = "cctv_created"
	ActionCCTVDeleted     = "cctv_deleted"
	ActionBedAssigned     = "bed_assigned"
)

// Record is one audit entry. Keyed by cctv id so a camera's history stays
// in partition order.
type Record struct {
	Action    string       `json:"action"`
	Actor     string       `json:"actor,omitempty"`
	CCTVID    string       `json:"cctv_id,omitempty"`
	BedID     string       `json:"bed_id,omitempty"`
	EventID   string       `json:"event_id,omitempty"`
	EventType string       `json:"event_type,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Event     *model.Event `json:"event,omitempty"`
}

// Publisher writes audit records to Kafka. Failures are logged and
// swallowed so auditing never takes down the live path.
type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// EventReceived records a safety event arriving over the live stream
func (p *Publisher) EventReceived(ctx context.Context, ev model.Event) {
	p.publish(ctx, Record{
		Action:    ActionEventReceived,
		CCTVID:    ev.CCTVID,
		BedID:     ev.BedID,
		EventID:   ev.ID,
		EventType: ev.EventType,
		Event:     &ev,
	})
}

// UserAction records an operator-initiated change
func (p *Publisher) UserAction(ctx context.Context, action, actor, cctvID, detail string) {
	p.publish(ctx, Record{
		Action: action,
		Actor:  actor,
		CCTVID: cctvID,
		Detail: detail,
	})
}

func (p *Publisher) publish(ctx context.Context, rec Record) {
	rec.Timestamp = time.Now().UTC()

	value, err := json.Marshal(rec)
	if err != nil {
		util.Error("Failed to marshal audit record", zap.Error(err))
		return
	}

	key := []byte(rec.CCTVID)
	if len(key) == 0 {
		key = []byte(rec.Actor)
	}

	if err := p.producer.ProduceMessage(ctx, p.topic, key, value); err != nil {
		util.Error("Failed to publish audit record",
			zap.String("action", rec.Action),
			zap.Error(err))
	}
}
