package audit

import (
	"context"

	"github.com/platinummonkey/trellis/pkg/observability"
)

// LogLogger emits audit events as structured log lines.
type LogLogger struct {
	eventLogger
	logger *observability.Logger
}

// NewLogLogger creates an audit logger writing through logger.
func NewLogLogger(logger *observability.Logger) *LogLogger {
	l := &LogLogger{logger: logger.WithField("component", "audit")}
	l.eventLogger = eventLogger{log: l.Log}
	return l
}

// Log writes event at info level, or warn when access was denied.
func (l *LogLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.UserID != nil {
		fields["actor_id"] = *event.UserID
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}
	if event.Changes != nil {
		fields["before"] = event.Changes.Before
		fields["after"] = event.Changes.After
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusDenied {
		entry.Warn(event.Message)
	} else {
		entry.Info(event.Message)
	}
	return nil
}

// Close is a no-op.
func (l *LogLogger) Close() error {
	return nil
}
