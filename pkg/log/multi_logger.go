package log

// MultiLogger fans each event out to several sinks, e.g. a file trace
// plus console output through SlogAdapter.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines sinks into one Logger. Events reach the sinks
// in the order given.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log forwards the event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
