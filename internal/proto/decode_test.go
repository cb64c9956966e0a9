package proto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relayhttp/relay/internal/rfcdate"
)

func newTestContext() *Context {
	return NewContext(rfcdate.New(), 64)
}

func TestParseRequestHead_Simple(t *testing.T) {
	raw := []byte("GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n")
	buf := NewReadBuf(len(raw))
	buf.Grow(raw)

	n, head, coding, kind, err := ParseRequestHead(buf, newTestContext(), 4096, 64)
	require.NoError(t, err)
	require.Equal(t, ParseComplete, kind)
	require.Equal(t, len(raw), n)
	require.Equal(t, "GET", head.Method)
	require.Equal(t, "/hello", head.RequestURI)
	require.Equal(t, "example.com", head.Host)
	require.True(t, coding.IsComplete())
}

func TestParseRequestHead_Partial(t *testing.T) {
	raw := []byte("GET /hello HTTP/1.1\r\nHost: example.com\r\n")
	buf := NewReadBuf(256)
	buf.Grow(raw)

	_, _, _, kind, err := ParseRequestHead(buf, newTestContext(), 4096, 64)
	require.NoError(t, err)
	require.Equal(t, ParsePartial, kind)
}

func TestParseRequestHead_ConflictingFraming(t *testing.T) {
	raw := []byte("POST /x HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n")
	buf := NewReadBuf(len(raw))
	buf.Grow(raw)

	_, _, _, kind, err := ParseRequestHead(buf, newTestContext(), 4096, 64)
	require.Equal(t, ParseError, kind)
	var perr *HeadParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseRequestHead_MissingHostOnHTTP11(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\n\r\n")
	buf := NewReadBuf(len(raw))
	buf.Grow(raw)

	_, _, _, kind, err := ParseRequestHead(buf, newTestContext(), 4096, 64)
	require.Equal(t, ParseError, kind)
	require.Error(t, err)
}

func TestParseRequestHead_ExpectContinue(t *testing.T) {
	raw := []byte("POST /x HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\n")
	buf := NewReadBuf(len(raw))
	buf.Grow(raw)

	ctx := newTestContext()
	_, _, _, kind, err := ParseRequestHead(buf, ctx, 4096, 64)
	require.NoError(t, err)
	require.Equal(t, ParseComplete, kind)
	require.True(t, ctx.IsExpectHeader())
}
