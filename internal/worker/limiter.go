// Package worker implements the acceptor/worker pool described in
// spec §4.5: a bounded accept loop that hands each accepted connection
// to its own goroutine, admission-controlled by a connection-limit
// semaphore, with transient-vs-fatal Accept error classification and a
// bounded graceful-shutdown drain.
//
// This generalizes the teacher's net/http-style Server.Serve accept
// loop (response_server.go) away from its unconditional one-goroutine-
// per-Accept policy into the spec's explicit admission-controlled
// model, grounded on the backpressure design of
// original_source/src/worker/limit.rs (a depth-N async semaphore) and
// the accept-retry backoff of original_source/xitca-server/src/server/mod.rs.
package worker

// Limiter is a counting semaphore implemented as a buffered channel
// token bucket: Acquire blocks while connection_limit permits are all
// checked out, Release returns one. It is the Go channel analogue of
// the Rust source's tokio::sync::Semaphore-backed worker limit.
type Limiter struct {
	tokens chan struct{}
}

// NewLimiter returns a Limiter pre-loaded with n tokens (n is the
// connection_limit Builder option; n<=0 means unlimited).
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		return &Limiter{}
	}
	l := &Limiter{tokens: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		l.tokens <- struct{}{}
	}
	return l
}

// Acquire blocks until a permit is available, or done fires first (in
// which case ok is false and no permit was taken).
func (l *Limiter) Acquire(done <-chan struct{}) (ok bool) {
	if l.tokens == nil {
		return true // unlimited
	}
	select {
	case <-l.tokens:
		return true
	case <-done:
		return false
	}
}

// Release returns a permit to the pool. A no-op on an unlimited
// Limiter.
func (l *Limiter) Release() {
	if l.tokens == nil {
		return
	}
	l.tokens <- struct{}{}
}

// InUse reports the number of permits currently checked out, for
// metrics export.
func (l *Limiter) InUse() int {
	if l.tokens == nil {
		return 0
	}
	return cap(l.tokens) - len(l.tokens)
}

// Capacity reports the configured connection_limit, or 0 if unlimited.
func (l *Limiter) Capacity() int {
	if l.tokens == nil {
		return 0
	}
	return cap(l.tokens)
}
