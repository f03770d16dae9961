// Package actionqueue implements a single-threaded cooperative queue of
// asynchronous work items, retried until each reports completion. The
// telnet command pipeline uses it to hold one command at a time until the
// device's next prompt. The emulated server does not use it: its request
// loop decodes its buffer directly on the connection's goroutine.
//
// The fan-in discipline — Drain calls are serialized so only one action
// runs at a time, with callers only ever enqueueing or triggering a
// drain — mirrors the teacher's internal/transport.AsyncTx. AsyncTx always resolves a send in
// one attempt (success or drop); an action here instead reports a
// completion flag and is retried in place, unremoved, until it returns
// true or fails outright.
package actionqueue

import (
	"context"
	"sync"
)

// Action runs one attempt of a queued unit of work. It returns (true,
// nil) when the work is complete and the item should be removed, (false,
// nil) when the item should be retried on the next Drain, and a non-nil
// error when the item has failed and should be removed with its error
// surfaced to the caller.
type Action func() (done bool, err error)

// Result is resolved exactly once, when its Action first returns
// done==true or a non-nil error.
type Result struct {
	done chan struct{}
	err  error
}

// Wait blocks until the action completes or ctx is cancelled.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether the result has already resolved, and its error if
// so (non-blocking).
func (r *Result) Done() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}

type item struct {
	action Action
	result *Result
}

// Queue is a FIFO of actions drained cooperatively on a single logical
// thread — concurrent Drain calls are serialized, so at most one Action
// runs at a time. It is not safe to re-enter Drain from within an Action.
type Queue struct {
	drainMu sync.Mutex
	mu      sync.Mutex
	items   []*item
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// Run appends action to the tail of the queue and returns a Result the
// caller can Wait on.
func (q *Queue) Run(action Action) *Result {
	res := &Result{done: make(chan struct{})}
	q.mu.Lock()
	q.items = append(q.items, &item{action: action, result: res})
	q.mu.Unlock()
	return res
}

// RunFront inserts action ahead of every item currently queued and
// returns a Result the caller can Wait on. Reordering ahead of a head
// item that has already made partial progress (e.g. telnet's Execute,
// which writes its command to the socket on first invocation and then
// waits for the response) is safe only because such an Action is
// expected to gate its own irreversible step on state the newly-front
// item can't satisfy until the in-progress one resolves.
func (q *Queue) RunFront(action Action) *Result {
	res := &Result{done: make(chan struct{})}
	q.mu.Lock()
	q.items = append([]*item{{action: action, result: res}}, q.items...)
	q.mu.Unlock()
	return res
}

// Len reports the number of items still queued (including one
// in-progress at the head).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain invokes the head item's action. If it reports completion or
// fails, the head is removed (and its Result resolved) and Drain
// continues to the next item in the same call; if it reports "not yet",
// Drain stops and the same item will be retried on the next call. Drain
// returns once the queue is empty or an item is not yet done.
func (q *Queue) Drain() {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		q.mu.Unlock()

		done, err := head.action()
		if !done && err == nil {
			return
		}

		// RunFront may have inserted ahead of head while its action ran,
		// so remove head by identity rather than by position.
		q.mu.Lock()
		for i, it := range q.items {
			if it == head {
				q.items = append(q.items[:i:i], q.items[i+1:]...)
				break
			}
		}
		q.mu.Unlock()

		head.result.err = err
		close(head.result.done)
	}
}
