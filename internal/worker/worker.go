// Package worker (continued): the per-worker subprocess wrapper and its
// acquire-queue state machine, the supplemented "worker acquire-queue
// bookkeeping" feature in SPEC_FULL.md §3 (Idle/Fetching/Done states,
// one worker with N queued items). The loop that multiplexes workers is
// in loop.go and uses one reader goroutine per worker rather than a
// readiness probe.
package worker

import (
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/apt-core/apt-core/internal/errstack"
)

// State is the worker's acquire-queue state (acquire-worker.cc's Idle/
// Fetching/Done, non-transport parts only).
type State int

const (
	StateIdle State = iota
	StateFetching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Worker owns one subprocess and its pipe pair.
type Worker struct {
	mu      deadlock.Mutex
	ID      string
	Timeout time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *Reader

	state        State
	capabilities Stanza
	queued       int
}

// Spawn forks path as a worker subprocess, args passed through verbatim.
// It does not read the worker's 100 Capabilities stanza; the first
// RecvStanza returns it and records it.
func Spawn(id, path string, args []string, timeout time.Duration, stack *errstack.Stack) (*Worker, error) {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		stack.Wrap(errstack.Error, errstack.WorkerFailure, id, err)
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stack.Wrap(errstack.Error, errstack.WorkerFailure, id, err)
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stack.Wrap(errstack.Error, errstack.WorkerFailure, id, err)
		return nil, err
	}
	w := &Worker{
		ID:      id,
		Timeout: timeout,
		cmd:     cmd,
		stdin:   stdin,
		reader:  NewReader(stdout),
		state:   StateIdle,
	}
	return w, nil
}

// SendStanza writes one stanza to the worker's stdin.
func (w *Worker) SendStanza(s Stanza) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return s.Encode(w.stdin)
}

// recvResult is the payload passed back from the background reader
// goroutine started by RecvStanza.
type recvResult struct {
	st  Stanza
	err error
}

// RecvStanza blocks for the next stanza up to Timeout; on timeout it
// cancels the worker (SIGINT, then reap) and returns errstack.WorkerFailure,
// matching spec.md §5: "no worker may block the loop indefinitely — each
// worker is given a configured timeout, after which the loop cancels it
// with SIGINT and reaps it."
func (w *Worker) RecvStanza(stack *errstack.Stack) (Stanza, error) {
	ch := make(chan recvResult, 1)
	go func() {
		st, err := w.reader.ReadStanza()
		ch <- recvResult{st, err}
	}()

	if w.Timeout <= 0 {
		r := <-ch
		w.dispatch(r.st)
		return r.st, r.err
	}

	select {
	case r := <-ch:
		w.dispatch(r.st)
		return r.st, r.err
	case <-time.After(w.Timeout):
		w.cancel(stack)
		return Stanza{}, &timeoutError{id: w.ID}
	}
}

// dispatch updates acquire-queue state from an observed stanza's code.
func (w *Worker) dispatch(st Stanza) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch st.Code {
	case CodeCapabilities:
		w.capabilities = st
	case CodeURIStart:
		w.state = StateFetching
	case CodeURIDone, CodeURIFailure:
		w.state = StateDone
		if w.queued > 0 {
			w.queued--
		}
	}
}

// cancel sends SIGINT and reaps the subprocess, per the timeout contract.
func (w *Worker) cancel(stack *errstack.Stack) {
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(syscall.SIGINT)
	}
	_ = w.cmd.Wait()
	stack.Push(errstack.Error, errstack.WorkerFailure, w.ID, "timed out, SIGINT sent")
}

// Close closes stdin (signalling EOF to the worker) and waits for exit.
func (w *Worker) Close() error {
	_ = w.stdin.Close()
	return w.cmd.Wait()
}

// State returns the worker's current acquire-queue state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Enqueue records one more queued item for this worker (600 URI Acquire).
func (w *Worker) Enqueue() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queued++
}

// Queued returns the number of items queued but not yet Done.
func (w *Worker) Queued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queued
}

type timeoutError struct{ id string }

func (e *timeoutError) Error() string { return "worker " + e.id + ": timed out" }
