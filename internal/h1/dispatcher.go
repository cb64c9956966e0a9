package h1

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/relayhttp/relay/hdr"
	"github.com/relayhttp/relay/internal/body"
	"github.com/relayhttp/relay/internal/httpapi"
	"github.com/relayhttp/relay/internal/proto"
	"github.com/relayhttp/relay/internal/rfcdate"
)

// Config bundles the per-connection limits and timeouts the Builder
// exposes (spec §6), the generalization of the teacher's compile-time
// generics (HEADER_LIMIT, READ_BUF_LIMIT, WRITE_BUF_LIMIT) into plain
// runtime fields, validated once at Builder.Build time. HeaderLimit is
// the header *field count* ceiling (max_request_headers); ReadBufLimit
// doubles as the request head's *byte* ceiling (HEAD_LIMIT), since a
// head can never exceed the buffer it is parsed out of.
type Config struct {
	HeaderLimit        int
	ReadBufLimit       int
	WriteBufLimit      int
	KeepAliveTimeout   time.Duration
	RequestHeadTimeout time.Duration
	VectoredWrite      bool
}

// vectoredWriter is the capability a transport may advertise; absent
// it, the dispatcher always falls back to the flat write buffer.
type vectoredWriter interface {
	IsVectoredWrite() bool
}

// responseBodyChunkSize bounds how much of a streaming response body
// is pulled per Read, keeping a single slow handler body from
// starving the write-buffer backpressure check.
const responseBodyChunkSize = 32 * 1024

// Dispatcher owns one connection for its lifetime, driving the outer
// "receive request, produce response, maybe keep alive" loop described
// in spec §4.4. It is the Go goroutine-per-connection generalization
// of xitca-web's Dispatcher::run, itself a generalization of the
// teacher's conn.serve loop (conn.go).
type Dispatcher struct {
	conn    net.Conn
	handler httpapi.Handler
	cfg     Config
	date    *rfcdate.Handle

	readBuf  *proto.ReadBuf
	writeBuf proto.WriteBuf
	ctx      *proto.Context
	timer    *Timer

	onServiceError func(error)
}

// New constructs a Dispatcher for one accepted connection. date is
// the worker-shared RFC date handle; onServiceError receives handler
// errors for the server-level log sink (spec §7, ServiceError).
func New(conn net.Conn, handler httpapi.Handler, cfg Config, date *rfcdate.Handle, onServiceError func(error)) *Dispatcher {
	vectored := cfg.VectoredWrite
	if vw, ok := conn.(vectoredWriter); ok {
		vectored = vectored && vw.IsVectoredWrite()
	} else {
		vectored = false
	}

	var wb proto.WriteBuf
	if vectored {
		wb = proto.NewListWriteBuf(cfg.WriteBufLimit)
	} else {
		wb = proto.NewFlatWriteBuf(cfg.WriteBufLimit)
	}

	if onServiceError == nil {
		onServiceError = func(error) {}
	}

	return &Dispatcher{
		conn:           conn,
		handler:        handler,
		cfg:            cfg,
		date:           date,
		readBuf:        proto.NewReadBuf(cfg.ReadBufLimit),
		writeBuf:       wb,
		ctx:            proto.NewContext(date, cfg.HeaderLimit),
		timer:          NewTimer(cfg.KeepAliveTimeout, cfg.RequestHeadTimeout),
		onServiceError: onServiceError,
	}
}

// Run drives the connection until it closes, the passed context is
// cancelled for graceful shutdown, or an unrecoverable error occurs.
// A nil return covers every benign exit path (spec §4.4 step 4/5 and
// §4.5 graceful shutdown); only IoError/BodyError/ServiceError
// propagate.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.timer.Stop()
	defer d.conn.Close()

	inFlight := 0

	for {
		d.timer.Update(time.Now())

		if d.ctx.IsForceClose() {
			return d.shutdown()
		}

		if err := d.awaitReadable(ctx); err != nil {
			if err == errGracefulStop {
				if d.readBuf.Len() == 0 && inFlight == 0 {
					return d.shutdown()
				}
				// fall through: pipelined bytes or in-flight work remain
			} else if herr, ok := err.(*Error); ok {
				return d.timerFireResult(herr)
			} else {
				return nil
			}
		}

		for {
			n, head, coding, kind, perr := proto.ParseRequestHead(d.readBuf, d.ctx, d.cfg.ReadBufLimit, d.cfg.HeaderLimit)
			switch kind {
			case proto.ParsePartial:
				goto drainWrite
			case proto.ParseError:
				herr := perr.(*proto.HeadParseError)
				// SetForceClose before replying: EncodeResponseHead only
				// emits Connection: close once ctype reflects it, and a
				// malformed head means framing for any further bytes on
				// this connection is unknown territory regardless.
				d.ctx.SetForceClose()
				if herr.Kind == proto.ErrHeaderTooLarge {
					d.replyError(431)
				} else {
					d.replyError(400)
				}
				goto drainWrite
			}

			d.timer.OnRequestComplete()
			d.readBuf.Advance(n)

			inFlight++
			if err := d.serveOne(ctx, head, coding); err != nil {
				inFlight--
				return err
			}
			inFlight--

			if d.ctx.IsForceClose() || d.readBuf.Len() == 0 {
				goto drainWrite
			}
		}

	drainWrite:
		if err := d.drainWrite(); err != nil {
			return wrap(KindIO, err)
		}

		if d.ctx.IsConnectionClosed() {
			return d.shutdown()
		}

		select {
		case <-ctx.Done():
			if d.readBuf.Len() == 0 && inFlight == 0 {
				return d.shutdown()
			}
		default:
		}
	}
}

var errGracefulStop = wrap(KindClosed, nil)

// closedChan is a pre-closed channel used as the trivial "already done"
// pump signal for requests with no body.
var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// awaitReadable blocks until more bytes are available, the connection
// deadline fires, or ctx is cancelled for graceful shutdown. A
// previously buffered, not-yet-parsed pipelined request short-circuits
// immediately (no additional syscall — spec §8 scenario 4).
func (d *Dispatcher) awaitReadable(ctx context.Context) error {
	if d.readBuf.Len() > 0 {
		return nil
	}

	type readResult struct {
		n   int
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		spare := d.readBuf.Spare()
		if spare == nil {
			done <- readResult{0, nil}
			return
		}
		n, err := d.conn.Read(spare)
		done <- readResult{n, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if res.err == io.EOF {
				return wrap(KindClosed, nil)
			}
			return wrap(KindIO, res.err)
		}
		if res.n == 0 {
			return wrap(KindClosed, nil)
		}
		d.readBuf.Commit(res.n)
		d.timer.OnHeadByte(time.Now())
		return nil
	case <-d.timer.C():
		return d.timer.Fire()
	case <-ctx.Done():
		return errGracefulStop
	}
}

// timerFireResult maps a benign connection-ending *Error — whether it
// came from the keep-alive timer or from a plain read EOF/closed
// connection — to Run's return value: nil for anything the worker
// runtime shouldn't log as a failure, the error itself otherwise.
func (d *Dispatcher) timerFireResult(herr *Error) error {
	switch herr.Kind {
	case KindKeepAliveExpire, KindClosed:
		return nil // silent close
	case KindRequestTimeout:
		d.ctx.SetForceClose()
		d.replyError(408)
		_ = d.drainWrite()
		return nil
	default:
		return herr
	}
}

func (d *Dispatcher) replyError(status int) {
	resp := httpapi.NewResponse(status)
	d.encodeHead(resp, nil)
}

// serveOne runs the per-request sequence of spec §4.4: build the
// request body channel, race the handler against the body pump,
// encode the response head, then stream the response body while
// continuing to feed the pump.
func (d *Dispatcher) serveOne(ctx context.Context, head proto.Head, coding proto.TransferCoding) error {
	var reqBody io.ReadCloser
	var sender *body.Sender
	if coding.IsComplete() {
		reqBody = body.Empty()
	} else {
		s, b := body.New()
		sender = s
		reqBody = b
	}

	req := &httpapi.Request{
		Ctx:           ctx,
		Method:        head.Method,
		RequestURI:    head.RequestURI,
		Proto:         "HTTP/1.1",
		ProtoMajor:    head.ProtoMajor,
		ProtoMinor:    head.ProtoMinor,
		Header:        head.Header,
		Host:          head.Host,
		ContentLength: head.ContentLen,
		RemoteAddr:    d.conn.RemoteAddr().String(),
		Body:          reqBody,
	}

	// pumpCtx is deliberately independent of ctx (the graceful-shutdown
	// token): spec §5 says firing shutdown must not abort in-flight
	// handler futures, so the body pump is torn down only by cancelPump
	// below (once Serve returns), never by the outer shutdown signal.
	pumpCtx, cancelPump := context.WithCancel(context.Background())
	defer cancelPump()

	pumpDone := closedChan
	if sender != nil {
		pumpDone = make(chan struct{})
		go func() {
			defer close(pumpDone)
			d.pumpRequestBody(pumpCtx, sender, &coding, d.ctx.IsExpectHeader())
		}()
	}

	resp, err := d.handler.Serve(req)
	cancelPump()
	// The pump goroutine is the only other reader of d.readBuf and
	// writer of d.writeBuf while it runs; it must have fully exited
	// before this goroutine resumes touching either buffer to stream
	// the response.
	<-pumpDone

	// The request header map is never touched again past this point;
	// return it to the Context so the next request's ParseRequestHead
	// call reuses the allocation instead of making a fresh map (spec
	// §9's per-connection allocation amortization).
	d.ctx.PutHeaderCache(head.Header)

	if err != nil {
		// The dispatcher never synthesizes a reply from a Handler error
		// (spec §6/§7, httpapi.Handler's doc comment): surface it to the
		// server-level sink and close, leaving any reply to the Handler
		// itself to have returned in resp.
		d.onServiceError(err)
		d.ctx.SetForceClose()
		return wrap(KindService, err)
	}
	if resp == nil {
		resp = httpapi.NewResponse(204)
	}

	isHead := head.Method == "HEAD"
	respBody := resp.Body
	if isHead {
		respBody = nil
	}

	size := respBodySize(resp, isHead)
	encoder := d.encodeHead(resp, &size)
	if err := d.streamResponseBody(respBody, &encoder); err != nil {
		d.ctx.SetForceClose()
		return wrap(KindBody, err)
	}

	if sender != nil && !coding.IsComplete() {
		// Handler did not read the whole request body: framing for the
		// next pipelined request is unknown territory, so close (§4.4
		// step 5).
		d.ctx.SetForceClose()
	}

	return nil
}

func respBodySize(resp *httpapi.Response, isHead bool) proto.BodySize {
	if isHead {
		return proto.BodySize{Known: true, Len: 0}
	}
	if resp.ContentLength >= 0 {
		return proto.BodySize{Known: true, Len: resp.ContentLength}
	}
	if resp.Body == nil {
		return proto.BodySize{Known: true, Len: 0}
	}
	return proto.BodySize{Streaming: true}
}

func (d *Dispatcher) encodeHead(resp *httpapi.Response, size *proto.BodySize) proto.TransferCoding {
	h := resp.Header
	if h == nil {
		h = make(hdr.Header)
	}
	var bs proto.BodySize
	if size != nil {
		bs = *size
	} else {
		bs = proto.BodySize{Known: true, Len: 0}
	}
	head := proto.ResponseHead{StatusCode: resp.StatusCode, Header: h}
	return proto.EncodeResponseHead(head, bs, d.ctx.Ctype(), false, d.date.String(), d.writeBuf)
}

// pumpRequestBody is task "B" from spec §4.4: while the handler (task
// "A") runs, read from the socket, decode body bytes, and feed them to
// the channel, honoring backpressure. If the request expects
// 100-continue, it first awaits the handler's first poll.
func (d *Dispatcher) pumpRequestBody(ctx context.Context, sender *body.Sender, coding *proto.TransferCoding, expectContinue bool) {
	if expectContinue {
		if err := sender.WaitForPoll(); err != nil {
			d.ctx.SetForceClose()
			return
		}
		d.writeBuf.WriteStatic(proto.Continue100)
		if err := d.drainWrite(); err != nil {
			return
		}
	}

	for {
		if err := sender.Ready(); err != nil {
			d.ctx.SetForceClose()
			return
		}

		for {
			out, ok, err := coding.Decode(d.readBuf)
			if err != nil {
				sender.FeedError(err)
				return
			}
			if !ok {
				break
			}
			if len(out) == 0 {
				sender.FeedEOF()
				return
			}
			sender.FeedData(out)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.readMore(ctx); err != nil {
			sender.FeedError(err)
			return
		}
	}
}

// readMore performs one blocking socket read directly into the read
// buffer, used by the body pump between decode attempts.
func (d *Dispatcher) readMore(ctx context.Context) error {
	spare := d.readBuf.Spare()
	if spare == nil {
		return nil
	}
	type readResult struct {
		n   int
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		n, err := d.conn.Read(spare)
		done <- readResult{n, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			return res.err
		}
		if res.n == 0 {
			return io.EOF
		}
		d.readBuf.Commit(res.n)
		return nil
	case <-ctx.Done():
		return context.Canceled
	}
}

// streamResponseBody polls the response body for a chunk iff the
// write buffer has room, encoding each chunk and flushing once the
// buffer fills, matching spec §4.4 step 4.
func (d *Dispatcher) streamResponseBody(respBody io.Reader, encoder *proto.TransferCoding) error {
	if encoder.IsEof() {
		// No body framing was written: the body is not read and there
		// is no terminator to emit.
		return nil
	}
	if respBody == nil {
		return encoder.EncodeEof(d.writeBuf)
	}

	buf := make([]byte, responseBodyChunkSize)
	for {
		if !d.writeBuf.WantWriteBuf() {
			if err := d.drainWrite(); err != nil {
				return err
			}
			continue
		}
		n, err := respBody.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if encErr := encoder.Encode(chunk, d.writeBuf); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return encoder.EncodeEof(d.writeBuf)
			}
			return err
		}
	}
}

// drainWrite loops flushing the write buffer until empty, the
// equivalent of BufferedIO.drain_write in spec §4.3.
func (d *Dispatcher) drainWrite() error {
	for d.writeBuf.WantWriteIO() {
		if _, err := d.writeBuf.FlushTo(d.conn); err != nil {
			return err
		}
	}
	return nil
}

// shutdown drains any outstanding write buffer then performs an
// orderly close.
func (d *Dispatcher) shutdown() error {
	if err := d.drainWrite(); err != nil {
		return nil
	}
	if tcp, ok := d.conn.(interface{ CloseWrite() error }); ok {
		_ = tcp.CloseWrite()
	}
	return nil
}
