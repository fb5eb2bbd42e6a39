package monitor

import "go.uber.org/zap"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the logger at warn level.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(message string) error {
	if s.Log != nil {
		s.Log.Warn("alert", zap.String("message", message))
	}
	return nil
}
