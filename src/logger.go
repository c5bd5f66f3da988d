package src

// Logger is the subset of zap's SugaredLogger the storage core relies on.
// Library packages take it as a dependency so tests can swap in a nop.
type Logger interface {
	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
	Sync() error
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Sync() error           { return nil }

func NopLogger() Logger {
	return nopLogger{}
}
