package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/masar-academy/api/internal/services"
)

// eventEnvelope is the wire form shared by every transport.
type eventEnvelope struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	UserID        string         `json:"userId,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func encodeEvent(event services.DomainEvent) ([]byte, error) {
	if strings.TrimSpace(event.Type) == "" {
		return nil, fmt.Errorf("encode event: type is required")
	}
	data, err := json.Marshal(eventEnvelope{
		ID:            event.ID,
		Type:          event.Type,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		UserID:        event.UserID,
		OccurredAt:    event.OccurredAt.UTC(),
		Payload:       event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	return data, nil
}

// eventAttributes are the routing attributes consumers filter on without decoding the body.
func eventAttributes(event services.DomainEvent) map[string]string {
	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "aggregateType", event.AggregateType)
	setAttr(attrs, "aggregateId", event.AggregateID)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
