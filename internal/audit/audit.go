package audit

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// LogEntry defines the structured audit log
type LogEntry struct {
	Timestamp time.Time
	ActorID   string
	Action    string // e.g. key_rotate, form_delete
	Resource  string
	Status    int
	Metadata  map[string]interface{}
}

// Logger interface
type Logger interface {
	Log(entry LogEntry)
}

// ZapLogger writes audit entries through a named zap logger.
type ZapLogger struct {
	log *zap.Logger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{log: l.Named("audit")}
}

func (l *ZapLogger) Log(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	fields := []zap.Field{
		zap.Time("timestamp", entry.Timestamp),
		zap.String("actor_id", entry.ActorID),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.Int("status", entry.Status),
	}
	if entry.Metadata != nil {
		fields = append(fields, zap.Any("metadata", maskSensitive(entry.Metadata)))
	}
	l.log.Info("audit", fields...)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Log(LogEntry) {}

func maskSensitive(m map[string]interface{}) map[string]interface{} {
	sensitiveKeys := []string{"api_key", "apikey", "password", "token", "secret"}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
		lowerK := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lowerK, s) {
				out[k] = "***REDACTED***"
				break
			}
		}
	}
	return out
}
