package proto

import (
	"strconv"

	"github.com/relayhttp/relay/hdr"
)

// ResponseHead is the status line plus header fields the dispatcher
// hands to EncodeResponseHead, generalizing the teacher's chunkWriter/
// response pair (chunk_writer.go, response_server.go) into a plain
// value the h1 package builds from a user Response.
type ResponseHead struct {
	StatusCode int
	Header     hdr.Header
}

// BodySize describes what the response body stream reports about its
// own length, matching the spec's framing decision table.
type BodySize struct {
	Known     bool
	Len       int64
	Streaming bool
}

// EncodeResponseHead serializes the status line, headers, and framing
// headers into w, selecting a TransferCoding for the response body per
// spec §4.1: an explicit length writes Content-Length, an unknown
// streaming size writes Transfer-Encoding: chunked, and upgrade/
// CONNECT-accepted responses carry no framing header at all. A Date
// header is inserted if absent. If the originating request was HEAD,
// the caller must force the returned coding's body to be dropped
// (handled by the dispatcher, which never calls Encode on a HEAD
// response after this).
func EncodeResponseHead(head ResponseHead, size BodySize, ctype ConnectionType, isHead bool, date string, w WriteBuf) TransferCoding {
	w.WriteStatic([]byte(statusLine(head.StatusCode)))

	var coding TransferCoding
	switch {
	case ctype == Upgrade:
		coding = UpgradeCoding()
	case isHead:
		coding = Eof()
	case size.Known:
		if size.Len == 0 {
			coding = Eof()
		} else {
			coding = Length(uint64(size.Len))
		}
		writeHeaderLine(w, hdr.ContentLength, strconv.FormatInt(size.Len, 10))
	case size.Streaming:
		coding = EncodeChunked()
		writeHeaderLine(w, hdr.TransferEncoding, "chunked")
	default:
		coding = Eof()
	}

	if head.Header.Get(hdr.Date) == "" {
		writeHeaderLine(w, hdr.Date, date)
	}
	if ctype == Close {
		writeHeaderLine(w, hdr.Connection, "close")
	} else if ctype == Upgrade {
		writeHeaderLine(w, hdr.Connection, "upgrade")
	}

	for k, vv := range head.Header {
		for _, v := range vv {
			writeHeaderLine(w, k, v)
		}
	}

	w.WriteStatic(crlf)
	return coding
}

func writeHeaderLine(w WriteBuf, key, value string) {
	w.WriteStatic([]byte(key))
	w.WriteStatic(colonSpace)
	w.WriteStatic([]byte(value))
	w.WriteStatic(crlf)
}

var colonSpace = []byte(": ")

func statusLine(code int) string {
	text := statusText[code]
	if text == "" {
		text = "status " + strconv.Itoa(code)
	}
	return "HTTP/1.1 " + strconv.Itoa(code) + " " + text + "\r\n"
}

var statusText = map[int]string{
	100: "Continue",
	200: "OK",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// Continue100 is the literal bytes written for a 100-continue
// interim response, emitted exactly once per expecting request and
// only once the handler has polled the request body (spec §4.4/§8).
var Continue100 = []byte("HTTP/1.1 100 Continue\r\n\r\n")
