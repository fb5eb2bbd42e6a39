package persistence

import (
	"encoding/json"

	"go.uber.org/zap"

	"trading-sim/internal/events"
	"trading-sim/pkg/db"
)

// EventSink appends lifecycle records to the events table through a
// BatchWriter. Append returns immediately.
type EventSink struct {
	writer *BatchWriter
	log    *zap.Logger
}

// NewEventSink wraps writer.
func NewEventSink(writer *BatchWriter, log *zap.Logger) *EventSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventSink{writer: writer, log: log}
}

// Append implements events.Sink.
func (s *EventSink) Append(r events.Record) {
	row, err := ToRow(r)
	if err != nil {
		s.log.Warn("event sink: encode failed", zap.String("event", string(r.Type)), zap.Error(err))
		return
	}
	query, args := db.InsertEventQuery(row)
	s.writer.WriteQuery(query, args...)
}

// Flush forces pending events to disk.
func (s *EventSink) Flush() error { return s.writer.Flush() }

// Close flushes and stops the writer.
func (s *EventSink) Close() error { return s.writer.Close() }

// ToRow encodes a record for the events table.
func ToRow(r events.Record) (db.EventRow, error) {
	row := db.EventRow{
		ID:        r.ID,
		Account:   r.Account,
		Type:      string(r.Type),
		Symbol:    r.Symbol,
		OrderID:   r.OrderID,
		CreatedAt: r.Time,
	}
	if r.Data != nil {
		b, err := json.Marshal(r.Data)
		if err != nil {
			return db.EventRow{}, err
		}
		row.Payload = string(b)
	}
	return row, nil
}
