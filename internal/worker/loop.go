package worker

import (
	"io"
	"sync"

	"github.com/apt-core/apt-core/internal/errstack"
)

// Loop multiplexes a set of workers, dispatching each received stanza to a
// Handler. Spec.md §5: "messages from a single worker are observed in
// emission order; the union across workers is not ordered." We realize
// this with one goroutine per worker feeding a single fan-in channel,
// rather than a literal poll(2)-style readiness probe, since Go's runtime
// scheduler already provides the "ready pipe" multiplexing spec.md
// describes at the language level.
type Loop struct {
	workers []*Worker
	handler Handler
	stack   *errstack.Stack
}

// Handler processes one stanza observed from one worker.
type Handler func(w *Worker, st Stanza)

// NewLoop returns a Loop bound to handler, dispatching cancellation and
// WorkerFailure diagnostics onto stack.
func NewLoop(handler Handler, stack *errstack.Stack) *Loop {
	return &Loop{handler: handler, stack: stack}
}

// Add registers a worker with the loop.
func (l *Loop) Add(w *Worker) { l.workers = append(l.workers, w) }

// fanInMsg carries one worker's stanza (or terminal error) into the loop's
// single consuming goroutine.
type fanInMsg struct {
	w   *Worker
	st  Stanza
	err error
}

// Run drains every worker's stdout until each reports EOF or a fatal
// error, invoking Handler for every stanza observed along the way. The
// union across workers is unordered; within one worker, order is
// preserved because each worker owns exactly one reader goroutine.
func (l *Loop) Run() error {
	fanin := make(chan fanInMsg)
	var wg sync.WaitGroup
	for _, w := range l.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			for {
				st, err := w.RecvStanza(l.stack)
				fanin <- fanInMsg{w: w, st: st, err: err}
				if err != nil {
					return
				}
			}
		}(w)
	}
	go func() {
		wg.Wait()
		close(fanin)
	}()

	var firstErr error
	for msg := range fanin {
		if msg.err != nil {
			if msg.err != io.EOF && firstErr == nil {
				firstErr = msg.err
			}
			continue
		}
		l.handler(msg.w, msg.st)
	}
	return firstErr
}

// Cancel sends SIGINT to every worker and reaps it, per spec.md §5's
// top-level cancellation contract.
func (l *Loop) Cancel() {
	for _, w := range l.workers {
		w.cancel(l.stack)
	}
}
