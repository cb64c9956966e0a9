package relay

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/relayhttp/relay/internal/worker"
)

const (
	defaultConnectionLimit    = 25600
	defaultBacklog            = 2048
	defaultShutdownTimeout    = 30 * time.Second
	defaultKeepAliveTimeout   = 5 * time.Second
	defaultRequestHeadTimeout = 5 * time.Second
	defaultTLSAcceptTimeout   = 3 * time.Second
	defaultMaxReadBufSize     = 256 * 1024
	defaultMaxWriteBufSize    = 256 * 1024
	defaultMaxRequestHeaders  = 128
)

// Builder assembles a Server, mirroring the option set of xitca-web's
// Builder (original_source/src/builder.rs): everything has a
// production-sensible default and is only overridden by the caller
// that needs to.
type Builder struct {
	serverThreads          int
	workerThreads          int
	workerMaxBlockingTasks int
	connectionLimit        int
	backlog                int
	disableSignal          bool
	shutdownTimeout        time.Duration
	keepAliveTimeout       time.Duration
	requestHeadTimeout     time.Duration
	tlsAcceptTimeout       time.Duration
	maxReadBufSize         int
	maxWriteBufSize        int
	maxRequestHeaders      int
}

// NewBuilder returns a Builder seeded with the defaults above.
func NewBuilder() *Builder {
	return &Builder{
		serverThreads:      1,
		connectionLimit:    defaultConnectionLimit,
		backlog:            defaultBacklog,
		shutdownTimeout:    defaultShutdownTimeout,
		keepAliveTimeout:   defaultKeepAliveTimeout,
		requestHeadTimeout: defaultRequestHeadTimeout,
		tlsAcceptTimeout:   defaultTLSAcceptTimeout,
		maxReadBufSize:     defaultMaxReadBufSize,
		maxWriteBufSize:    defaultMaxWriteBufSize,
		maxRequestHeaders:  defaultMaxRequestHeaders,
	}
}

// ServerThreads records an acceptor-thread count. The value is stored
// but not read: every bound listener runs exactly one accept loop,
// whatever this is set to.
func (b *Builder) ServerThreads(n int) *Builder { b.serverThreads = n; return b }

// WorkerThreads records a worker count. The value is stored but not
// read: it neither caps nor changes parallelism, which is governed by
// GOMAXPROCS alone (see automaxprocs in cmd/relayd).
func (b *Builder) WorkerThreads(n int) *Builder { b.workerThreads = n; return b }

// WorkerMaxBlockingTasks is carried for API parity with the original
// worker pool's dedicated blocking-task thread count; relay has no
// separate blocking-task pool (every connection is its own goroutine).
// The value is stored but not read; it does not bound how many
// Handler.Serve calls are in flight.
func (b *Builder) WorkerMaxBlockingTasks(n int) *Builder { b.workerMaxBlockingTasks = n; return b }

// ConnectionLimit bounds concurrently accepted connections per
// listener (default 25600).
func (b *Builder) ConnectionLimit(n int) *Builder { b.connectionLimit = n; return b }

// Backlog records a listen backlog (default 2048). Bind passes it to
// listenTCP, which does not apply it: listeners get the operating
// system's default backlog.
func (b *Builder) Backlog(n int) *Builder { b.backlog = n; return b }

// DisableSignal stops Server.Run from installing SIGINT/SIGTERM
// handlers, leaving shutdown entirely to the caller's context.
func (b *Builder) DisableSignal() *Builder { b.disableSignal = true; return b }

// ShutdownTimeout bounds how long Server.Run waits, per listener, for
// in-flight connections to drain once shutdown begins (default 30s).
// Connections still open when it elapses are not closed; Run returns
// an error for that listener instead.
func (b *Builder) ShutdownTimeout(d time.Duration) *Builder { b.shutdownTimeout = d; return b }

// KeepAliveTimeout bounds how long an idle keep-alive connection may
// wait for the next request (default 5s).
func (b *Builder) KeepAliveTimeout(d time.Duration) *Builder { b.keepAliveTimeout = d; return b }

// RequestHeadTimeout bounds how long a partially-arrived request head
// may take to complete (default 5s).
func (b *Builder) RequestHeadTimeout(d time.Duration) *Builder { b.requestHeadTimeout = d; return b }

// TLSAcceptTimeout bounds the handshake time for listeners the caller
// wraps with tls.NewListener before passing to Listen; relay performs
// no TLS termination of its own (that logic is explicitly out of
// scope), it only applies this as a deadline around the handshake of
// each accepted connection.
func (b *Builder) TLSAcceptTimeout(d time.Duration) *Builder { b.tlsAcceptTimeout = d; return b }

// MaxReadBufSize caps the per-connection read buffer (default 256KiB).
func (b *Builder) MaxReadBufSize(n int) *Builder { b.maxReadBufSize = n; return b }

// MaxWriteBufSize caps the per-connection write buffer (default
// 256KiB).
func (b *Builder) MaxWriteBufSize(n int) *Builder { b.maxWriteBufSize = n; return b }

// MaxRequestHeaders caps the header-field count accepted per request
// (default 128); the request head's raw byte size is bounded
// separately by MaxReadBufSize, since a head can never exceed the
// buffer it is parsed out of.
func (b *Builder) MaxRequestHeaders(n int) *Builder { b.maxRequestHeaders = n; return b }

// Build validates the accumulated options and returns a Server bound
// to no listeners yet; call Listen/Bind before Run.
func (b *Builder) Build(handler Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("relay: handler must not be nil")
	}
	if b.connectionLimit < 0 {
		return nil, errors.New("relay: connection limit must not be negative")
	}
	if b.maxReadBufSize <= 0 || b.maxWriteBufSize <= 0 {
		return nil, errors.New("relay: buffer sizes must be positive")
	}
	if b.maxRequestHeaders <= 0 {
		return nil, errors.New("relay: max request headers must be positive")
	}
	return newServer(b, handler), nil
}

// listenTCP is the Bind helper's socket setup. It listens with default
// socket options: the backlog argument is accepted but not applied,
// and no reuseaddr option is set.
func listenTCP(addr string, backlog int) (net.Listener, error) {
	lc := net.ListenConfig{}
	lsn, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "relay: listen %s", addr)
	}
	return worker.NewTCPKeepAliveListener(lsn, 3*time.Minute), nil
}
