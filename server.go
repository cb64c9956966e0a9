package relay

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relayhttp/relay/internal/h1"
	"github.com/relayhttp/relay/internal/httpapi"
	"github.com/relayhttp/relay/internal/rfcdate"
	"github.com/relayhttp/relay/internal/worker"
)

// Server owns every listener bound via Listen/Bind plus the shared
// per-connection configuration derived from the Builder that created
// it, the generalization of xitca-server's multi-listener Server
// (original_source/xitca-server/src/server/mod.rs) onto
// context.Context-driven graceful shutdown.
type Server struct {
	handler Handler
	cfg     h1.Config
	opts    *Builder
	date    *rfcdate.Handle
	log     *zap.Logger

	mu    sync.Mutex
	pools []*worker.Pool

	connsTotal  prometheus.Counter
	connsActive prometheus.GaugeFunc
	serviceErrs prometheus.Counter
}

func newServer(b *Builder, handler Handler) *Server {
	return &Server{
		handler: handler,
		opts:    b,
		cfg: h1.Config{
			HeaderLimit:        b.maxRequestHeaders,
			ReadBufLimit:       b.maxReadBufSize,
			WriteBufLimit:      b.maxWriteBufSize,
			KeepAliveTimeout:   b.keepAliveTimeout,
			RequestHeadTimeout: b.requestHeadTimeout,
			VectoredWrite:      true,
		},
		date: rfcdate.New(),
		log:  zap.NewNop(),
	}
}

// WithLogger attaches a *zap.Logger for connection and accept-loop
// diagnostics; the default is a no-op logger.
func (s *Server) WithLogger(log *zap.Logger) *Server {
	if log != nil {
		s.log = log
	}
	return s
}

// WithMetrics registers relay's counters against reg, the Go
// generalization of the original's metrics hooks; safe to call at
// most once.
func (s *Server) WithMetrics(reg prometheus.Registerer) *Server {
	s.connsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "Total accepted connections.",
	})
	s.serviceErrs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_service_errors_total",
		Help: "Total Handler errors reported to the dispatcher.",
	})
	s.connsActive = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Connections currently checked out of each listener's admission limiter.",
	}, s.activeConnections)
	reg.MustRegister(s.connsTotal, s.serviceErrs, s.connsActive)
	return s
}

func (s *Server) activeConnections() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, p := range s.pools {
		total += p.Limiter().InUse()
	}
	return float64(total)
}

// Bind opens a TCP listener at addr and hands it to Listen. The
// Builder's backlog option is passed along but not applied (see
// listenTCP).
func (s *Server) Bind(addr string) error {
	lsn, err := listenTCP(addr, s.opts.backlog)
	if err != nil {
		return err
	}
	return s.Listen(lsn)
}

// Listen adds an already-constructed net.Listener (e.g. one wrapped in
// tls.NewListener by the caller — relay performs no TLS termination
// itself) to the set this Server will accept connections from once Run
// is called.
func (s *Server) Listen(lsn net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := worker.New(lsn, s.opts.connectionLimit, s.handleConn, s.log)
	s.pools = append(s.pools, pool)
	return nil
}

// Run accepts connections on every bound listener until ctx is
// cancelled or a SIGINT/SIGTERM arrives (unless DisableSignal was set
// on the Builder), then performs the graceful drain described in spec
// §4.4/§4.5 step 6: let in-flight requests finish, bounded by
// ShutdownTimeout, before returning.
func (s *Server) Run(ctx context.Context) error {
	defer s.date.Stop()

	s.mu.Lock()
	pools := append([]*worker.Pool(nil), s.pools...)
	s.mu.Unlock()

	if len(pools) == 0 {
		return errors.New("relay: Run called with no listeners bound")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !s.opts.disableSignal {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case <-sigCh:
				s.log.Info("signal received, shutting down")
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	// Each listener gets its own accept loop; errgroup collects the
	// first real failure while letting every pool keep draining once
	// ctx is cancelled for a normal shutdown.
	var grp errgroup.Group
	for _, p := range pools {
		p := p
		grp.Go(func() error {
			if err := p.Run(runCtx); err != nil && runCtx.Err() == nil {
				return err
			}
			return nil
		})
	}
	runErr := grp.Wait()

	var drainErrs error
	for _, p := range pools {
		if !p.Wait(s.opts.shutdownTimeout) {
			drainErrs = multierr.Append(drainErrs, errors.Errorf("relay: shutdown timeout elapsed with connections still draining"))
		}
	}

	return multierr.Append(runErr, drainErrs)
}

// Shutdown is a convenience for embedding Run in a larger lifecycle:
// it cancels a context previously passed to Run. Callers driving their
// own context do not need this method.
func (s *Server) Shutdown(cancel context.CancelFunc) { cancel() }

// tlsHandshaker is satisfied by *tls.Conn; relay detects it rather
// than importing crypto/tls itself, since it performs no TLS
// termination logic of its own (the caller is expected to wrap the
// net.Listener passed to Listen if TLS is wanted).
type tlsHandshaker interface {
	Handshake() error
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	if s.connsTotal != nil {
		s.connsTotal.Inc()
	}
	if hs, ok := conn.(tlsHandshaker); ok && s.opts.tlsAcceptTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.opts.tlsAcceptTimeout))
		if err := hs.Handshake(); err != nil {
			s.log.Debug("tls handshake failed", zap.Error(err))
			return
		}
		_ = conn.SetDeadline(time.Time{})
	}
	d := h1.New(conn, s.handler, s.cfg, s.date, s.onServiceError)
	if err := d.Run(ctx); err != nil {
		s.log.Debug("connection ended", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
	}
}

func (s *Server) onServiceError(err error) {
	if s.serviceErrs != nil {
		s.serviceErrs.Inc()
	}
	s.log.Error("handler error", zap.Error(err))
}

var _ httpapi.Handler = HandlerFunc(nil)
