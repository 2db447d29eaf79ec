package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/segmentio/kafka-go"
)

// Message encodes ev for topic, keyed by the entity it concerns.
func Message(topic string, ev events.Envelope) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: topic,
		Key:   events.PartitionKey(ev.CorrelationID),
		Value: b,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	}, nil
}

func UnmarshalEnvelope(b []byte) (events.Envelope, error) {
	var ev events.Envelope
	if err := json.Unmarshal(b, &ev); err != nil {
		return events.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return ev, nil
}

func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
