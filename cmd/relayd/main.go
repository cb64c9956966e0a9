// Command relayd is a demo HTTP/1.1 server binary wiring relay.Server
// to a configurable listen address, exposing Prometheus metrics on a
// second port and logging through zap, grounded on the CLI/ambient-
// stack patterns of the wider example pack (cobra command tree, zap
// structured logging, automaxprocs GOMAXPROCS tuning).
package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"

	"github.com/relayhttp/relay"
)

type rootFlags struct {
	addr               string
	metricsAddr        string
	connectionLimit    int
	backlog            int
	keepAliveTimeout   time.Duration
	requestHeadTimeout time.Duration
	shutdownTimeout    time.Duration
	maxReadBufSize     int
	maxWriteBufSize    int
	maxRequestHeaders  int
	disableSignal      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "relayd runs a relay HTTP/1.1 server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.addr, "addr", ":8080", "address to listen on")
	fs.StringVar(&flags.metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	fs.IntVar(&flags.connectionLimit, "connection-limit", 25600, "maximum concurrent connections")
	fs.IntVar(&flags.backlog, "backlog", 2048, "listen backlog")
	fs.DurationVar(&flags.keepAliveTimeout, "keep-alive-timeout", 5*time.Second, "idle keep-alive timeout")
	fs.DurationVar(&flags.requestHeadTimeout, "request-head-timeout", 5*time.Second, "partial request head timeout")
	fs.DurationVar(&flags.shutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown drain timeout")
	fs.IntVar(&flags.maxReadBufSize, "max-read-buf-size", 256*1024, "per-connection read buffer limit in bytes")
	fs.IntVar(&flags.maxWriteBufSize, "max-write-buf-size", 256*1024, "per-connection write buffer limit in bytes")
	fs.IntVar(&flags.maxRequestHeaders, "max-request-headers", 128, "maximum header fields per request")
	fs.BoolVar(&flags.disableSignal, "disable-signal", false, "do not install SIGINT/SIGTERM handlers")

	return cmd
}

func run(ctx context.Context, flags *rootFlags) error {
	log, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "relayd: build logger")
	}
	defer log.Sync() //nolint:errcheck

	builder := relay.NewBuilder().
		ConnectionLimit(flags.connectionLimit).
		Backlog(flags.backlog).
		KeepAliveTimeout(flags.keepAliveTimeout).
		RequestHeadTimeout(flags.requestHeadTimeout).
		ShutdownTimeout(flags.shutdownTimeout).
		MaxReadBufSize(flags.maxReadBufSize).
		MaxWriteBufSize(flags.maxWriteBufSize).
		MaxRequestHeaders(flags.maxRequestHeaders)
	if flags.disableSignal {
		builder = builder.DisableSignal()
	}

	srv, err := builder.Build(relay.HandlerFunc(echoHandler))
	if err != nil {
		return errors.Wrap(err, "relayd: build server")
	}
	srv.WithLogger(log)

	registry := prometheus.NewRegistry()
	srv.WithMetrics(registry)

	if err := srv.Bind(flags.addr); err != nil {
		return errors.Wrapf(err, "relayd: bind %s", flags.addr)
	}
	log.Info("listening", zap.String("addr", flags.addr))

	metricsSrv := &http.Server{
		Addr:    flags.metricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	defer metricsSrv.Close() //nolint:errcheck

	return srv.Run(ctx)
}

// echoHandler is the default demo handler: it reads the request body
// to completion and mirrors it back with a 200, used to exercise the
// request body channel and the response streaming path end to end. A
// Handler must fully drain (or explicitly Close) req.Body before
// returning; the dispatcher tears down the body pump the moment Serve
// returns, so handing back req.Body itself as the Response.Body would
// race the pump's own shutdown.
func echoHandler(req *relay.Request) (*relay.Response, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, req.Body); err != nil {
		return relay.NewResponse(400), nil
	}

	resp := relay.NewResponse(200)
	resp.Header.Set("Content-Type", "application/octet-stream")
	resp.Body = &buf
	resp.ContentLength = int64(buf.Len())
	return resp, nil
}
