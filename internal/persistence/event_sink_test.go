package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-sim/internal/events"
	"trading-sim/pkg/db"
)

func openMemory(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestEventSinkPersistsThroughEmitter(t *testing.T) {
	database := openMemory(t)
	writer := NewBatchWriter(database.DB, 10, time.Hour, nil)
	sink := NewEventSink(writer, nil)

	em := events.NewEmitter()
	em.Attach(sink)
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	em.Emit(events.Record{Type: events.EventOrderCreated, Account: "acc", Symbol: "BTCUSDT", OrderID: 1, Time: t0,
		Data: map[string]string{"size": "0.5"}})
	em.Emit(events.Record{Type: events.EventOrderFilled, Account: "acc", Symbol: "BTCUSDT", OrderID: 1, Time: t0.Add(time.Millisecond)})

	assert.Equal(t, 2, writer.Pending())
	require.NoError(t, sink.Flush())
	assert.Equal(t, 0, writer.Pending())

	rows, err := database.Queries().ListEvents(context.Background(), db.EventFilter{Account: "acc"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "order.created", rows[0].Type)
	assert.JSONEq(t, `{"size":"0.5"}`, rows[0].Payload)
	assert.Equal(t, "order.filled", rows[1].Type)

	require.NoError(t, sink.Close())
	m := writer.GetMetrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Zero(t, m.TotalErrors)
}

func TestBatchWriterFlushesOnCloseAndDropsOverflow(t *testing.T) {
	database := openMemory(t)
	writer := NewBatchWriter(database.DB, 1, time.Hour, nil)
	writer.maxPending = 2

	// block the background flusher so the backlog builds up
	writer.flushMu.Lock()
	for i := 0; i < 5; i++ {
		row := db.EventRow{ID: string(rune('a' + i)), Account: "acc", Type: "t", CreatedAt: time.Now()}
		q, args := db.InsertEventQuery(row)
		writer.Write(WriteOp{Query: q, Args: args})
	}
	writer.flushMu.Unlock()

	require.NoError(t, writer.Close())
	m := writer.GetMetrics()
	assert.Equal(t, uint64(3), m.TotalDropped)

	rows, err := database.Queries().ListEvents(context.Background(), db.EventFilter{Account: "acc"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
