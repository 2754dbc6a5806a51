package worker

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/neadwerx/eventmanager/core/logger"
)

// Mirror publishes one processing-log record per successfully processed
// queue item to a Kafka topic, for downstream audit trails. The mirror
// is strictly best-effort: a publish failure is logged and never fails
// the already-committed transaction.
type Mirror struct {
	writer *kafka.Writer
}

// ProcessedItem is the processing-log record.
type ProcessedItem struct {
	Queue            string    `json:"queue"`
	Action           *string   `json:"action"`
	UID              *string   `json:"uid"`
	Recorded         *string   `json:"recorded"`
	TransactionLabel *string   `json:"transaction_label"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// NewMirror creates a mirror writing to topic on the given brokers.
func NewMirror(brokers []string, topic string) *Mirror {
	return &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish emits one record. Safe to call on a nil mirror.
func (m *Mirror) Publish(item ProcessedItem) {
	if m == nil {
		return
	}
	data, err := json.Marshal(item)
	if err != nil {
		logger.Default().WithError(err).Warn("cannot marshal processing-log record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.writer.WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		logger.Default().WithError(err).Warn("cannot publish processing-log record")
	}
}

// Close flushes and closes the writer. Safe to call on a nil mirror.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.writer.Close()
}

func (w *Worker) publishProcessed(queue string, action, uid, recorded, label sql.NullString) {
	w.mirror.Publish(ProcessedItem{
		Queue:            queue,
		Action:           optional(action),
		UID:              optional(uid),
		Recorded:         optional(recorded),
		TransactionLabel: optional(label),
		ProcessedAt:      time.Now().UTC(),
	})
}

func optional(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
