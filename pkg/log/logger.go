package log

// Logger receives the protocol events a connection emits: commands,
// replies and transport errors. A nil-behaving sink is NoopLogger.
type Logger interface {
	// Log records one protocol event. Log is called from the command
	// path while the connection lock is held, so implementations must
	// be safe for concurrent use and return quickly.
	Log(event Event)
}

// NoopLogger drops every event. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
