package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CycleSummary is what a poller reports about one fetch-diff-notify pass
type CycleSummary struct {
	UID        int64
	CycleID    string
	Videos     int
	Dynamics   int
	Skipped    int
	WentLive   bool
	Persisted  bool
	FeedErrors int
	Duration   time.Duration
}

// LogCycle logs the outcome of a poll cycle
func LogCycle(log Logger, s CycleSummary) {
	fields := map[string]interface{}{
		"uid":         s.UID,
		"cycle_id":    s.CycleID,
		"videos":      s.Videos,
		"dynamics":    s.Dynamics,
		"skipped":     s.Skipped,
		"went_live":   s.WentLive,
		"persisted":   s.Persisted,
		"feed_errors": s.FeedErrors,
		"duration_ms": s.Duration.Milliseconds(),
	}

	switch {
	case !s.Persisted:
		log.WarnWithFields("Cycle finished without persisting", fields)
	case s.Videos+s.Dynamics > 0 || s.WentLive:
		log.InfoWithFields("Cycle delivered new items", fields)
	default:
		log.DebugWithFields("Cycle finished", fields)
	}
}

// LogDelivery logs a send to a single destination
func LogDelivery(log Logger, destination, itemID string, err error) {
	l := log.WithFields(map[string]interface{}{
		"destination": destination,
		"item_id":     itemID,
	})
	if err != nil {
		l.WithError(err).Error("Delivery failed")
		return
	}
	l.Debug("Delivered")
}

// LogComponentStart logs when a component starts
func LogComponentStart(log Logger, component string, config map[string]interface{}) {
	l := log.WithField("component", component)
	if len(config) > 0 {
		l = l.WithFields(config)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(log Logger, component string, reason string) {
	log.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
