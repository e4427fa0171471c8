package regioncache

// Fields carries structured context for a log line: fqn, region, marker, err.
type Fields map[string]any

// Logger is what the access layer writes through. Swallowed lock timeouts and
// refused external reads go to Debug; nothing in the hot path logs above Warn.
// Adapters for zap, logrus and slog live under log/.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

// NopLogger discards everything; it is the default.
type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// coalesce picks def for an unset option.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
