package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaSink forwards audit records as JSON to a Kafka topic, for sites
// that feed the trail into a SIEM or compliance pipeline rather than
// just stdout.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink opens a writer against the given brokers/topic. Records
// are keyed by ElementRef so a consumer can partition by asset.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Write(ctx context.Context, rec Record) error {
	body, err := json.Marshal(recordJSON{
		Timestamp:     rec.Timestamp,
		Direction:     string(rec.Direction),
		NodeRef:       rec.NodeRef.String(),
		ElementRef:    rec.ElementRef.String(),
		PriorValue:    rec.PriorValue,
		NewValue:      rec.NewValue,
		UserID:        rec.UserID,
		Outcome:       string(rec.Outcome),
		RejectReason:  string(rec.RejectReason),
		CorrelationID: rec.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ElementRef.String()),
		Value: body,
	})
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error { return s.writer.Close() }

type recordJSON struct {
	Timestamp     time.Time `json:"timestamp"`
	Direction     string    `json:"direction"`
	NodeRef       string    `json:"node_ref"`
	ElementRef    string    `json:"element_ref"`
	PriorValue    any       `json:"prior_value,omitempty"`
	NewValue      any       `json:"new_value,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Outcome       string    `json:"outcome"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	CorrelationID string    `json:"correlation_id"`
}
