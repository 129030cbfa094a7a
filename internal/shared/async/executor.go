package async

import (
	"context"
	"sync"
)

// Executor runs completion callbacks. Implementations decide which goroutine
// a callback runs on; every callback submitted is run exactly once.
type Executor interface {
	Submit(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Submit(fn func()) { f(fn) }

// Inline runs callbacks on the submitting goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Loop is a serial event loop: callbacks run one at a time, in submission
// order, on the goroutine that called Run. It gives callers a single logical
// thread of control over completions without locking their own state.
//
// Stopping never discards work. Callbacks queued at Stop are drained, and
// callbacks submitted once the loop has wound down run on the submitter.
type Loop struct {
	logger PanicLogger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	running bool
}

// NewLoop creates an idle loop. Call Run to start draining it.
func NewLoop(logger PanicLogger) *Loop {
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Submit enqueues fn, or runs it inline when the loop has stopped and is
// no longer draining.
func (l *Loop) Submit(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.stopped && !l.running {
		l.mu.Unlock()
		l.runOne(fn)
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Run drains the queue until ctx is done or Stop is called, then runs what is
// still queued before returning. A panicking callback is logged and does not
// stop the loop.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	for l.drain() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.wake:
		}
	}
}

// Pending reports how many callbacks are waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stop asks Run to return once the queue is empty. When Run is not active the
// queued callbacks run on the caller before Stop returns.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	var leftover []func()
	if !l.running {
		leftover = l.queue
		l.queue = nil
	}
	l.mu.Unlock()
	l.signal()

	for _, fn := range leftover {
		l.runOne(fn)
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// drain runs queued callbacks. It reports false once the loop is stopped and
// empty, clearing running under the same lock so Submit never strands work.
func (l *Loop) drain() bool {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			if l.stopped {
				l.running = false
				l.mu.Unlock()
				return false
			}
			l.mu.Unlock()
			return true
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.runOne(fn)
	}
}

func (l *Loop) runOne(fn func()) {
	Run(l.logger, "event-loop", fn)
}
