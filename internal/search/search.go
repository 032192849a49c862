package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/bucketing"
	"wardwatch/internal/client"
	"wardwatch/internal/model"
	"wardwatch/internal/util"
)

// EventDocument is the indexed shape of a safety event. Notes are the only
// free-text field; everything else is keyword filters.
type EventDocument struct {
	EventID    string `json:"event_id"`
	BedID      string `json:"bed_id"`
	CCTVID     string `json:"cctv_id"`
	PatientID  string `json:"patient_id,omitempty"`
	EventType  string `json:"event_type"`
	Handled    bool   `json:"handled"`
	Note       string `json:"note,omitempty"`
	OccurredAt string `json:"occurred_at"`
	IndexedAt  string `json:"indexed_at"`
}

// Result is one search hit plus the total match count
type Result struct {
	Total  int64           `json:"total"`
	Events []EventDocument `json:"events"`
}

// Query holds the supported search filters
type Query struct {
	Text      string
	EventType string
	CCTVID    string
	Handled   *bool
	From      int
	Size      int
}

// Service indexes events into per-device-bucket monthly indices and
// searches across them via the wildcard pattern.
type Service struct {
	client  *client.ESClient
	buckets *bucketing.BucketingManager
	prefix  string
}

func NewService(client *client.ESClient, buckets *bucketing.BucketingManager, indexPrefix string) *Service {
	return &Service{client: client, buckets: buckets, prefix: indexPrefix}
}

// IndexEvent writes a single event document. Re-indexing the same event id
// overwrites the previous document, so disposition updates stay searchable.
func (s *Service) IndexEvent(ctx context.Context, ev model.Event) error {
	occurred := ev.OccurredTime()
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	doc := EventDocument{
		EventID:    ev.ID,
		BedID:      ev.BedID,
		CCTVID:     ev.CCTVID,
		EventType:  ev.EventType,
		Handled:    ev.IsHandled(),
		OccurredAt: occurred.UTC().Format(time.RFC3339),
		IndexedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if ev.PatientID != nil {
		doc.PatientID = *ev.PatientID
	}
	if ev.Note != nil {
		doc.Note = *ev.Note
	}

	index := s.buckets.IndexName(s.prefix, ev.CCTVID, occurred)
	res, err := s.client.IndexDocument(ctx, index, ev.ID, doc)
	if err != nil {
		util.Error("Failed to index event",
			zap.String("event_id", ev.ID),
			zap.String("index", index),
			zap.Error(err))
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.Status())
	}
	return nil
}

// Search runs a filtered query across every event index
func (s *Service) Search(ctx context.Context, q Query) (*Result, error) {
	if q.Size <= 0 || q.Size > 100 {
		q.Size = 20
	}

	must := []map[string]interface{}{}
	if text := strings.TrimSpace(util.SanitizeInput(q.Text)); text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"note", "event_type", "bed_id"},
			},
		})
	}
	filter := []map[string]interface{}{}
	if q.EventType != "" {
		filter = append(filter, term("event_type", q.EventType))
	}
	if q.CCTVID != "" {
		filter = append(filter, term("cctv_id", q.CCTVID))
	}
	if q.Handled != nil {
		filter = append(filter, term("handled", *q.Handled))
	}

	body := map[string]interface{}{
		"from": q.From,
		"size": q.Size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
		"sort": []map[string]interface{}{
			{"occurred_at": map[string]interface{}{"order": "desc"}},
		},
	}

	res, err := s.client.Search(ctx, s.buckets.IndexPattern(s.prefix), body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source EventDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.client.ParseResponse(res, &parsed); err != nil {
		return nil, err
	}

	result := &Result{Total: parsed.Hits.Total.Value}
	for _, hit := range parsed.Hits.Hits {
		result.Events = append(result.Events, hit.Source)
	}
	return result, nil
}

func term(field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{field: value},
	}
}
