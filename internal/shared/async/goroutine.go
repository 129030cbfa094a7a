package async

import "runtime/debug"

// PanicLogger receives panic reports from guarded goroutines and callbacks.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn on a new goroutine. A panic is reported under name and does not
// crash the process.
func Go(logger PanicLogger, name string, fn func()) {
	go Run(logger, name, fn)
}

// Run calls fn on the current goroutine with the same guard as Go and reports
// whether fn returned normally.
func Run(logger PanicLogger, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			report(logger, name, r)
			ok = false
		}
	}()
	fn()
	return true
}

// Recover is the deferred form of the guard.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		report(logger, name, r)
	}
}

func report(logger PanicLogger, name string, r any) {
	if logger == nil {
		return
	}
	if name == "" {
		name = "anonymous"
	}
	logger.Error("panic in %s: %v\n%s", name, r, debug.Stack())
}
