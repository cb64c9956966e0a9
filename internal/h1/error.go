// Package h1 implements the per-connection HTTP/1.1 dispatcher state
// machine: the generalization of the teacher's conn.serve loop
// (conn.go) into an explicit, spec-driven request/response pipeline
// over proto.Context, proto.TransferCoding, and body.Sender/Body,
// grounded step for step on xitca-web's Dispatcher
// (original_source/xitca-http/src/h1/proto/dispatcher.rs).
package h1

import "fmt"

// Kind enumerates the error taxonomy from spec §7: ParseError,
// KeepAliveExpire, RequestTimeout, IoError, BodyError, ServiceError,
// and Closed (a benign end-of-connection, not actually an error value
// the dispatcher's Run ever returns as non-nil).
type Kind int

const (
	KindParse Kind = iota
	KindKeepAliveExpire
	KindRequestTimeout
	KindIO
	KindBody
	KindService
	KindClosed
)

// Error is the dispatcher-level error type threaded out of Run; its
// Kind tells the worker runtime's logger whether this was a routine
// close or worth logging, matching the teacher's isCommonNetReadError
// split in conn.go.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("h1: %v", e.Err)
	}
	return "h1: closed"
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// ErrClosed is the benign end-of-connection sentinel; Run returns nil
// (not ErrClosed) on an orderly close, and the dispatcher builds its
// own KindClosed values internally rather than returning this one.
var ErrClosed = wrap(KindClosed, nil)
