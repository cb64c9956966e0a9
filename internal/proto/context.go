package proto

import (
	"github.com/relayhttp/relay/hdr"
	"github.com/relayhttp/relay/internal/rfcdate"
)

// ConnectionType is the spec's connection_type state: Init becomes
// KeepAlive on the first successful request unless a header overrides
// it. It is monotone within a connection — once Close or Upgrade is
// set it never returns to KeepAlive (enforced by setClose/setUpgrade
// only ever tightening, never loosening, the state).
type ConnectionType int

const (
	Init ConnectionType = iota
	KeepAlive
	Close
	Upgrade
)

// Context is the per-connection state threaded through head parsing
// and response encoding: the generalization of the teacher's *response
// plus *conn fields (wantsClose, wants10KeepAlive, curReq method,
// handlerHeader) into one explicit struct, recycled across every
// request on the connection instead of reallocated per request.
type Context struct {
	ctype       ConnectionType
	forceClose  bool
	expectCont  bool
	method      string
	headerCache hdr.Header
	date        *rfcdate.Handle

	headerLimit int
}

// NewContext returns a Context bound to the given shared date handle
// and header-count ceiling (HEADER_LIMIT in the spec).
func NewContext(date *rfcdate.Handle, headerLimit int) *Context {
	return &Context{date: date, headerLimit: headerLimit, ctype: Init}
}

// Ctype returns the current connection type.
func (c *Context) Ctype() ConnectionType { return c.ctype }

// IsConnectionClosed reports whether the dispatcher must perform an
// orderly shutdown after the current response: true once Close or
// Upgrade has been selected.
func (c *Context) IsConnectionClosed() bool {
	return c.ctype == Close || c.ctype == Upgrade
}

// SetForceClose marks the connection for close after the in-flight
// response regardless of what the client asked for (parse errors,
// dropped request bodies, response-body errors).
func (c *Context) SetForceClose() { c.forceClose = true; c.promote(Close) }

func (c *Context) IsForceClose() bool { return c.forceClose }

// promote raises ctype towards Close/Upgrade only, preserving the
// monotonicity invariant; it is a no-op if ctype is already at least
// as "closed" as want.
func (c *Context) promote(want ConnectionType) {
	if want == Upgrade || (want == Close && c.ctype != Upgrade) {
		c.ctype = want
	}
}

func (c *Context) setKeepAlive() {
	if c.ctype == Init {
		c.ctype = KeepAlive
	}
}

func (c *Context) setClose() { c.promote(Close) }

func (c *Context) setUpgrade() { c.promote(Upgrade) }

// IsExpectHeader reports whether the current request carried
// Expect: 100-continue.
func (c *Context) IsExpectHeader() bool { return c.expectCont }

// Method returns the method of the request currently being decoded or
// served, needed for CONNECT special-casing and to suppress bodies in
// HEAD responses.
func (c *Context) Method() string { return c.method }

// Date returns the shared RFC 7231 date string, rebuilt at most once
// per second.
func (c *Context) Date() string { return c.date.String() }

// resetPerRequest clears the fields the spec requires to be reset at
// the start of each request decode.
func (c *Context) resetPerRequest() {
	c.expectCont = false
	c.method = ""
}

// takeHeaderCache hands back the recycled header map, emptied, for the
// decoder to repopulate. The cache is created lazily on first use,
// sized for hint entries; a recycled map is reused as is.
func (c *Context) takeHeaderCache(hint int) hdr.Header {
	h := c.headerCache
	c.headerCache = nil
	if h == nil {
		return make(hdr.Header, hint)
	}
	for k := range h {
		delete(h, k)
	}
	return h
}

// PutHeaderCache returns the header map to the Context for reuse by
// the next request on this connection, once the dispatcher is certain
// nothing still references it (the response for the request it
// belonged to has been fully handled).
func (c *Context) PutHeaderCache(h hdr.Header) {
	c.headerCache = h
}
