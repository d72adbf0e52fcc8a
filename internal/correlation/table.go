// Package correlation implements the outstanding-request tracker from
// spec.md §4.3: callers sending a request that expects a reply register a
// waiter keyed by the outbound id; the reply (or a timeout, or shutdown)
// resolves exactly that waiter and no other.
package correlation

import (
	"sync"
	"time"

	"github.com/meshrelay/orchestrator/internal/apperr"
)

// Result is what a waiter eventually receives: either a reply or an error
// (timeout, cancellation, or shutdown).
type Result struct {
	Content interface{}
	Err     error
}

// Options configure a single correlation entry.
type Options struct {
	// Timeout defaults to 30s per spec.md §4.3.
	Timeout time.Duration
	// CustomEvent, if set, means the waiter resolves only when a message of
	// this type arrives bearing the entry's request id — used when the
	// router is really waiting for a different wire type than a plain reply
	// (e.g. childagent.response).
	CustomEvent string
	// AnyMessageID accepts any request id as a match, used when the
	// downstream peer echoes a freshly generated id instead of the one the
	// caller sent.
	AnyMessageID bool
}

type entry struct {
	id          string
	customEvent string
	anyID       bool
	resultCh    chan Result
	timer       *time.Timer
	once        sync.Once
}

func (e *entry) resolve(res Result) {
	e.once.Do(func() {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.resultCh <- res
		close(e.resultCh)
	})
}

// Table is the correlation table: one-shot waiters keyed by outbound
// request id.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty correlation table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

const defaultTimeout = 30 * time.Second

// Register installs a waiter for id and returns a channel that receives
// exactly one Result: the matching reply, a timeout error, or — on
// Shutdown — a "Server stopped" error. The entry removes itself from the
// table before the channel is sent to, per spec.md §8's invariant that E is
// removed before the resolver returns.
func (t *Table) Register(id string, opts Options) <-chan Result {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	e := &entry{
		id:          id,
		customEvent: opts.CustomEvent,
		anyID:       opts.AnyMessageID,
		resultCh:    make(chan Result, 1),
	}

	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()

	e.timer = time.AfterFunc(opts.Timeout, func() {
		t.remove(id)
		e.resolve(Result{Err: apperr.Correlation(apperr.CodeTimeout, "request timed out")})
	})

	return e.resultCh
}

func (t *Table) remove(id string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return e
}

// Resolve matches an inbound reply against the waiter registered for
// requestID (the inbound envelope's requestId field). msgType is the
// inbound message's type, used to satisfy CustomEvent-gated waiters.
// Resolve returns true if a waiter was matched and resolved.
func (t *Table) Resolve(requestID, msgType string, content interface{}) bool {
	t.mu.Lock()
	e, ok := t.entries[requestID]
	if ok {
		if e.customEvent != "" && e.customEvent != msgType {
			t.mu.Unlock()
			return false
		}
		delete(t.entries, requestID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	e.resolve(Result{Content: content})
	return true
}

// ResolveAny matches the first waiter configured with AnyMessageID that it
// finds, regardless of requestID — used when a downstream peer echoes a new
// id rather than the one it was asked to reply to. Entries are scanned in
// map order, so when several such waiters are outstanding, which one is
// matched is not defined.
func (t *Table) ResolveAny(msgType string, content interface{}) bool {
	t.mu.Lock()
	var matched *entry
	var matchedID string
	for id, e := range t.entries {
		if e.anyID && (e.customEvent == "" || e.customEvent == msgType) {
			matched = e
			matchedID = id
			break
		}
	}
	if matched != nil {
		delete(t.entries, matchedID)
	}
	t.mu.Unlock()

	if matched == nil {
		return false
	}
	matched.resolve(Result{Content: content})
	return true
}

// Cancel rejects the waiter for id, if any, with a "waiter cancelled" error.
func (t *Table) Cancel(id string) {
	e := t.remove(id)
	if e != nil {
		e.resolve(Result{Err: apperr.Correlation(apperr.CodeWaiterCancelled, "waiter cancelled")})
	}
}

// Shutdown rejects every outstanding waiter with "Server stopped" and
// clears the table. No new Register calls should be made afterward.
func (t *Table) Shutdown() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	for _, e := range entries {
		e.resolve(Result{Err: apperr.Correlation(apperr.CodeServerStopped, "Server stopped")})
	}
}

// Len reports the number of outstanding entries (for tests/diagnostics).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
