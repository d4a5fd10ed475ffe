package view

import (
	"context"
	"fmt"
)

// AsyncProducer computes the values for an asynchronous assign. It runs on
// its own goroutine; the context is canceled when the attempt is superseded
// or the session stops. On success the map must contain an entry per
// requested key.
type AsyncProducer func(ctx context.Context) (map[string]any, error)

// AsyncLauncher spawns supervised async work for a socket. The session
// actor implements it; the socket only holds the handle.
type AsyncLauncher interface {
	LaunchAsync(sk *Socket, keys []string, producer AsyncProducer)
}

// AsyncResult wraps a deferred assign value. Exactly one of Loading, OK and
// Failed is truthy at any time; within one async attempt the state moves
// loading -> (ok | failed) and only a fresh AssignAsync restarts it.
type AsyncResult struct {
	// Loading is true while the producer is still running.
	Loading bool `json:"loading"`
	// OK is true once the producer succeeded.
	OK bool `json:"ok"`
	// Failed carries the failure value when the producer failed, else nil.
	Failed any `json:"failed"`
	// Result carries the produced value on success, the failure value on
	// failure, and nil while loading.
	Result any `json:"result"`
}

// AsyncLoading returns the loading state.
func AsyncLoading() AsyncResult {
	return AsyncResult{Loading: true}
}

// AsyncOK returns the success state wrapping v.
func AsyncOK(v any) AsyncResult {
	return AsyncResult{OK: true, Result: v}
}

// AsyncFailed returns the failure state wrapping err.
func AsyncFailed(err any) AsyncResult {
	return AsyncResult{Failed: err, Result: err}
}

// Clause names accepted by Resolve.
const (
	ClauseOK      = "ok"
	ClauseLoading = "loading"
	ClauseFailed  = "failed"
)

// Resolve selects and invokes the clause matching the result's state.
//
// Clauses are keyed "ok", "loading" and "failed"; the clause receives the
// result value ("ok"), nil ("loading") or the failure value ("failed").
// Unknown clause keys, and a missing clause for the current state, are
// programmer errors and panic.
func Resolve(r AsyncResult, clauses map[string]func(v any) any) any {
	for key := range clauses {
		switch key {
		case ClauseOK, ClauseLoading, ClauseFailed:
		default:
			panic(fmt.Sprintf("view: unknown async clause %q", key))
		}
	}

	var key string
	var arg any
	switch {
	case r.Loading:
		key = ClauseLoading
	case r.OK:
		key, arg = ClauseOK, r.Result
	default:
		key, arg = ClauseFailed, r.Failed
	}

	clause, ok := clauses[key]
	if !ok {
		panic(fmt.Sprintf("view: no async clause for state %q", key))
	}
	return clause(arg)
}
