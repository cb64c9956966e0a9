// Package relay implements a small, dependency-light HTTP/1.1 server
// whose wire codec, backpressure model, and connection lifecycle are a
// Go-idiomatic generalization of xitca-web's hyper-free dispatcher:
// one goroutine per accepted connection runs an explicit request/
// response state machine over byte-limited read/write buffers, a
// transfer-coding state machine shared by decode and encode, and a
// bounded per-request body channel, instead of delegating to
// net/http's bufio-based implicit pipeline.
package relay

import (
	"github.com/relayhttp/relay/internal/httpapi"
)

// Request is the per-connection view of an inbound HTTP/1.1 request
// handed to a Handler.
type Request = httpapi.Request

// Response is what a Handler returns to be serialized back to the
// client.
type Response = httpapi.Response

// Handler is the single operation a relay Server dispatches requests
// to.
type Handler = httpapi.Handler

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc = httpapi.HandlerFunc

// NewResponse builds a Response with an initialized header map and no
// body.
func NewResponse(status int) *Response { return httpapi.NewResponse(status) }
