package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trading-sim/internal/events"
)

// Monitor watches the bus for risk alerts and emergency transitions and
// forwards them to an AlertSink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  *zap.Logger
}

// Start subscribes and returns immediately; the watcher stops with ctx.
func (m *Monitor) Start(ctx context.Context) {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	if m.Bus == nil || m.Sink == nil {
		log.Info("monitor not fully configured; skipping")
		return
	}
	alerts, unsubAlerts := m.Bus.Subscribe(events.EventRiskAlert, 50)
	trips, unsubTrips := m.Bus.Subscribe(events.EventEmergencyTripped, 10)
	go func() {
		defer unsubAlerts()
		defer unsubTrips()
		for {
			var msg any
			var ok bool
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-alerts:
			case msg, ok = <-trips:
			}
			if !ok {
				return
			}
			if err := m.Sink.Send(formatAlert(msg)); err != nil {
				log.Warn("alert delivery failed", zap.Error(err))
			}
		}
	}()
}

func formatAlert(msg any) string {
	return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case events.Record:
		return fmt.Sprintf("%s account=%s symbol=%s", t.Type, t.Account, t.Symbol)
	default:
		return "alert triggered"
	}
}
