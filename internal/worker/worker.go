package worker

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnHandler runs one accepted connection to completion, returning
// when it closes or ctx is cancelled for graceful shutdown.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Pool is the acceptor/worker runtime of spec §4.5: it owns the
// listener, an admission Limiter, and the set of in-flight connection
// goroutines, generalizing the teacher's Server.Serve accept loop
// (src/http/server.go) with the connection_limit semaphore and bounded
// shutdown drain the spec adds.
type Pool struct {
	listener net.Listener
	limiter  *Limiter
	handle   ConnHandler
	log      *zap.Logger

	wg sync.WaitGroup
}

// New returns a Pool serving lsn. connectionLimit<=0 means unlimited.
func New(lsn net.Listener, connectionLimit int, handle ConnHandler, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		listener: lsn,
		limiter:  NewLimiter(connectionLimit),
		handle:   handle,
		log:      log,
	}
}

// Limiter exposes the admission semaphore for metrics export.
func (p *Pool) Limiter() *Limiter { return p.limiter }

// Run accepts connections until ctx is cancelled, applying the same
// exponential accept-retry backoff as the teacher for transient
// errors, and a fatal return for anything else (spec §4.5's
// "classify accept errors as transient or fatal").
func (p *Pool) Run(ctx context.Context) error {
	done := ctx.Done()

	go func() {
		<-done
		p.listener.Close()
	}()

	var tempDelay time.Duration
	for {
		if !p.limiter.Acquire(done) {
			return ctx.Err()
		}

		conn, err := p.listener.Accept()
		if err != nil {
			p.limiter.Release()
			select {
			case <-done:
				return ctx.Err()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				p.log.Warn("accept error, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.limiter.Release()
			defer conn.Close()
			p.handle(ctx, conn)
		}()
	}
}

// Wait blocks until every in-flight connection goroutine spawned by
// Run has returned, or shutdownTimeout elapses first, matching the
// Builder's shutdown_timeout option (spec §6). Returns false if the
// timeout was hit with connections still outstanding.
func (p *Pool) Wait(shutdownTimeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if shutdownTimeout <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(shutdownTimeout):
		return false
	}
}
