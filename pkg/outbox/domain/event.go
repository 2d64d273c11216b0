package domain

import (
	"encoding/json"
	"fmt"
	"time"

	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

type OutboxEvent struct {
	ID            int64           `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Topic         string          `db:"topic"`
	Status        Status          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	LastError     *string         `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
}

// NewEvent wraps data into the envelope and returns a PENDING row ready to be saved.
func NewEvent(aggregateType, aggregateID, eventType, topic string, data any) (*OutboxEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", eventType, err)
	}

	payload, err := json.Marshal(generalDomain.Envelope{
		EventType:   eventType,
		AggregateID: aggregateID,
		Data:        raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}

	return &OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Topic:         topic,
		Status:        StatusPending,
	}, nil
}
