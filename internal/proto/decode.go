package proto

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/relayhttp/relay/hdr"
)

// ParseKind distinguishes the three outcomes of a head-parse attempt
// named in the spec: Complete, Partial (need more bytes), and Error.
type ParseKind int

const (
	ParseComplete ParseKind = iota
	ParsePartial
	ParseError
)

// ParseErrorKind subdivides ParseError the way the spec's error
// taxonomy does.
type ParseErrorKind int

const (
	ErrHeaderTooLarge ParseErrorKind = iota
	ErrHeaderSyntax
	ErrRequestLine
	ErrConflictingLength
)

// HeadParseError wraps a malformed-input or over-limit failure while
// parsing a request head.
type HeadParseError struct {
	Kind ParseErrorKind
	Msg  string
}

func (e *HeadParseError) Error() string { return "proto: " + e.Msg }

func parseErr(kind ParseErrorKind, msg string) error {
	return &HeadParseError{Kind: kind, Msg: msg}
}

// Head is the parsed request line plus headers — the output of
// ParseRequestHead, generalizing the teacher's *Request (conn.go
// readRequest) down to the fields the dispatcher actually needs.
type Head struct {
	Method       string
	RequestURI   string
	ProtoMajor   int
	ProtoMinor   int
	Header       hdr.Header
	Host         string
	ContentLen   int64 // -1 when absent
}

// CONNECT is the one method the spec special-cases in both decode and
// connection-type selection.
const CONNECT = "CONNECT"

// ParseRequestHead attempts to parse exactly one request head out of
// buf. Result is ParseComplete (n is the number of bytes consumed),
// ParsePartial (more bytes needed; becomes ErrHeaderTooLarge once buf
// has already reached maxHeadBytes), or ParseError. maxHeadBytes and
// maxHeaderCount are the two distinct ceilings spec §4.1/§6 name
// separately — HEAD_LIMIT (raw byte size of the request line plus
// headers) and max_request_headers (field count) — and must not be
// conflated: a head that is still arriving byte-by-byte should only be
// rejected once it actually exceeds the byte ceiling, never the field
// count.
//
// Body-coding selection follows the header-order rules in spec §4.1:
// chunked and Content-Length are mutually exclusive, Connection:
// keep-alive/close/upgrade and Expect/Upgrade headers update ctx, and
// CONNECT forces an Upgrade coding regardless of headers.
func ParseRequestHead(buf *ReadBuf, ctx *Context, maxHeadBytes, maxHeaderCount int) (n int, head Head, coding TransferCoding, kind ParseKind, err error) {
	raw := buf.Bytes()
	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(raw) >= maxHeadBytes {
			return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrHeaderTooLarge, "request head exceeds header limit")
		}
		return 0, Head{}, TransferCoding{}, ParsePartial, nil
	}
	headBytes := raw[:idx]
	total := idx + 4

	lines := bytes.Split(headBytes, []byte("\r\n"))
	if len(lines) == 0 {
		return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrRequestLine, "empty request")
	}

	ctx.resetPerRequest()

	requestLine := strings.TrimRight(string(lines[0]), "\r")
	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) != 3 {
		return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrRequestLine, "malformed request line")
	}
	method, uri, proto := parts[0], parts[1], parts[2]

	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrRequestLine, "malformed HTTP version")
	}

	headerLines := lines[1:]
	if len(headerLines) > maxHeaderCount {
		return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrHeaderTooLarge, "too many header fields")
	}

	header := ctx.takeHeaderCache(len(headerLines))

	coding = Eof()
	var contentLen int64 = -1
	var sawChunked bool
	var host string

	isHTTP11 := major == 1 && minor == 1
	if isHTTP11 {
		ctx.setKeepAlive()
	} else {
		ctx.setClose()
	}

	for _, line := range headerLines {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrHeaderSyntax, "header missing colon")
		}
		key := string(line[:colon])
		val := hdr.TrimString(string(line[colon+1:]))
		if !hdr.ValidHeaderFieldName(key) || !hdr.ValidHeaderFieldValue(val) {
			return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrHeaderSyntax, "invalid header name or value")
		}
		canon := hdr.CanonicalHeaderKey(key)
		header[canon] = append(header[canon], val)

		switch canon {
		case hdr.Host:
			host = val
		case hdr.TransferEncoding:
			if strings.EqualFold(val, "chunked") {
				if !isHTTP11 {
					return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrHeaderSyntax, "chunked transfer encoding requires HTTP/1.1")
				}
				if err := coding.TrySet(DecodeChunked()); err != nil {
					return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrConflictingLength, err.Error())
				}
				sawChunked = true
			}
		case hdr.ContentLength:
			n, perr := strconv.ParseUint(val, 10, 64)
			if perr != nil {
				return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrHeaderSyntax, "invalid Content-Length")
			}
			if sawChunked {
				return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrConflictingLength, "Content-Length with chunked Transfer-Encoding")
			}
			contentLen = int64(n)
			if n != 0 {
				if err := coding.TrySet(Length(n)); err != nil {
					return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrConflictingLength, err.Error())
				}
			}
		case hdr.Connection:
			for _, tok := range strings.Split(val, ",") {
				tok = strings.TrimSpace(tok)
				switch strings.ToLower(tok) {
				case "keep-alive":
					ctx.setKeepAlive()
				case "close":
					ctx.setClose()
				case "upgrade":
					ctx.setUpgrade()
					_ = coding.TrySet(UpgradeCoding())
				}
			}
		case hdr.Expect:
			if strings.EqualFold(val, "100-continue") {
				ctx.expectCont = true
			}
		case hdr.UpgradeHeader:
			if isHTTP11 {
				ctx.setUpgrade()
			}
		}
	}

	if strings.EqualFold(method, CONNECT) {
		ctx.setUpgrade()
		coding = UpgradeCoding()
	}

	if isHTTP11 && host == "" && !strings.EqualFold(method, CONNECT) {
		return 0, Head{}, TransferCoding{}, ParseError, parseErr(ErrHeaderSyntax, "missing required Host header")
	}

	ctx.method = strings.ToUpper(method)

	head = Head{
		Method:     ctx.method,
		RequestURI: uri,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     header,
		Host:       host,
		ContentLen: contentLen,
	}
	return total, head, coding, ParseComplete, nil
}

func parseHTTPVersion(s string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(s, prefix) {
		return 0, 0, false
	}
	s = s[len(prefix):]
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err := strconv.Atoi(s[:dot])
	if err != nil {
		return 0, 0, false
	}
	min, err := strconv.Atoi(s[dot+1:])
	if err != nil {
		return 0, 0, false
	}
	return maj, min, true
}
