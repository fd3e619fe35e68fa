package notification

import (
	"context"

	"go.uber.org/zap"
)

// AlertLevel represents the severity of an operational alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is an operational message for the people running the simulator,
// e.g. a stop-loss close that keeps failing to persist.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Alerter is the interface for all alert backends.
type Alerter interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogAlerter logs alerts.
type LogAlerter struct {
	log *zap.Logger
}

// NewLogAlerter creates a log-based alerter.
func NewLogAlerter(log *zap.Logger) *LogAlerter {
	return &LogAlerter{log: log.Named("alert")}
}

func (a *LogAlerter) Send(_ context.Context, alert Alert) error {
	fields := []zap.Field{zap.String("level", string(alert.Level)), zap.String("title", alert.Title)}
	switch alert.Level {
	case AlertCritical:
		a.log.Error(alert.Message, fields...)
	case AlertWarning:
		a.log.Warn(alert.Message, fields...)
	default:
		a.log.Info(alert.Message, fields...)
	}
	return nil
}
