package logging

type callIDCapable interface {
	WithCallID(string) Logger
}

// WithCallID returns a logger that tags log lines with the id of one logical
// API call, so every dispatch of a redirect chain can be grepped together.
func WithCallID(logger Logger, callID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if callID == "" {
		return logger
	}
	if capable, ok := logger.(callIDCapable); ok {
		return capable.WithCallID(callID)
	}
	return &callIDLogger{logger: logger, callID: callID}
}

type callIDLogger struct {
	logger Logger
	callID string
}

func (l *callIDLogger) Debug(format string, args ...any) {
	l.logger.Debug(prefixCallID(l.callID, format), args...)
}

func (l *callIDLogger) Info(format string, args ...any) {
	l.logger.Info(prefixCallID(l.callID, format), args...)
}

func (l *callIDLogger) Warn(format string, args ...any) {
	l.logger.Warn(prefixCallID(l.callID, format), args...)
}

func (l *callIDLogger) Error(format string, args ...any) {
	l.logger.Error(prefixCallID(l.callID, format), args...)
}

func prefixCallID(callID, format string) string {
	return "[call_id=" + callID + "] " + format
}
