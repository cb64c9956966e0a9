package proto

import (
	"errors"
)

// TransferCoding is the tagged body-framing state described in the
// spec's data model: Length, DecodeChunked, EncodeChunked, Eof, and
// Upgrade. It is a generalization of the teacher's transferWriter/
// transferReader split (types_transfer.go) into one explicit state
// machine, and its chunked variant is ported directly from xitca-web's
// ChunkedState enum (original_source/xitca-http/src/h1/proto/codec.rs)
// rather than the teacher's bufio-line-oriented chunk reader, because
// the spec requires byte-boundary restartability (§4.2, §8) that a
// line-buffered reader cannot offer mid-stream.
type Kind int

const (
	KindLength Kind = iota
	KindDecodeChunked
	KindEncodeChunked
	KindEof
	KindUpgrade
)

// chunkedState enumerates the byte-at-a-time states of the RFC 7230
// chunked decoder, named exactly as the spec's data model lists them.
type chunkedState int

const (
	csSize chunkedState = iota
	csSizeLws
	csExtension
	csSizeLf
	csBody
	csBodyCr
	csBodyLf
	csTrailer
	csTrailerLf
	csEndCr
	csEndLf
	csEnd
)

// ErrChunkOverflow is returned when an accumulating chunk size would
// exceed what a uint64 can hold.
var ErrChunkOverflow = errors.New("proto: invalid chunk size: overflow")

// ErrChunkSyntax is returned for any malformed chunked-encoding byte:
// an invalid hex digit, a missing LF where one is required, or a
// newline inside a chunk extension.
var ErrChunkSyntax = errors.New("proto: invalid chunked encoding")

// TransferCoding drives decoding of a request body or encoding of a
// response body for exactly one message. It is created fresh per
// message (see NewRequestCoding/NewResponseCoding) and dropped at
// message end.
type TransferCoding struct {
	kind Kind

	// Length: remaining bytes expected.
	remaining uint64

	// DecodeChunked state.
	state     chunkedState
	chunkSize uint64
}

// Eof returns the no-body coding, the default for responses without
// explicit framing and the coding forced onto HEAD responses.
func Eof() TransferCoding { return TransferCoding{kind: KindEof} }

// Length returns an exact-length body coding of n bytes.
func Length(n uint64) TransferCoding { return TransferCoding{kind: KindLength, remaining: n} }

// DecodeChunked returns a chunked decoder primed to its initial state.
func DecodeChunked() TransferCoding {
	return TransferCoding{kind: KindDecodeChunked, state: csSize}
}

// EncodeChunked returns a chunked encoder.
func EncodeChunked() TransferCoding { return TransferCoding{kind: KindEncodeChunked} }

// UpgradeCoding returns the opaque pass-through coding used for CONNECT
// tunnels and protocol upgrades.
func UpgradeCoding() TransferCoding { return TransferCoding{kind: KindUpgrade} }

func (t TransferCoding) Kind() Kind { return t.kind }
func (t TransferCoding) IsEof() bool { return t.kind == KindEof }

// IsComplete reports whether the decode side has consumed the entire
// body (zero-length Length, or the chunked End state).
func (t TransferCoding) IsComplete() bool {
	switch t.kind {
	case KindEof, KindUpgrade:
		return true
	case KindLength:
		return t.remaining == 0
	case KindDecodeChunked:
		return t.state == csEnd
	default:
		return false
	}
}

// TrySet attempts to replace the current coding with next. Per the
// spec, a transition between Length/DecodeChunked/Upgrade is forbidden
// once one of those has already been selected for this message — it
// signals a conflicting pair of framing headers (e.g. chunked +
// Content-Length) and must be rejected as a protocol error without
// mutating the receiver. Multiple sets to Upgrade are allowed (CONNECT
// followed by Connection: upgrade).
func (t *TransferCoding) TrySet(next TransferCoding) error {
	if next.kind == KindUpgrade && t.kind == KindUpgrade {
		return nil
	}
	switch t.kind {
	case KindLength, KindDecodeChunked, KindUpgrade:
		return ErrConflictingFraming
	default:
		*t = next
		return nil
	}
}

// ErrConflictingFraming is raised when header order selects two
// incompatible body-framing mechanisms for the same message (e.g.
// Transfer-Encoding: chunked together with Content-Length).
var ErrConflictingFraming = errors.New("proto: conflicting Transfer-Encoding/Content-Length framing")

// Decode consumes as much of buf as forms complete body data and
// returns the decoded bytes (nil, false, nil when more input is
// needed). A zero-length, true result signals body EOF. buf is
// advanced past whatever was consumed.
func (t *TransferCoding) Decode(buf *ReadBuf) (out []byte, ok bool, err error) {
	switch t.kind {
	case KindLength:
		return t.decodeLength(buf)
	case KindDecodeChunked:
		return t.decodeChunked(buf)
	case KindUpgrade:
		// Opaque pass-through: everything buffered belongs to the tunnel.
		if buf.Len() == 0 {
			return nil, false, nil
		}
		b := append([]byte(nil), buf.Bytes()...)
		buf.Advance(len(b))
		return b, true, nil
	default: // Eof
		return nil, false, nil
	}
}

func (t *TransferCoding) decodeLength(buf *ReadBuf) ([]byte, bool, error) {
	if t.remaining == 0 {
		return []byte{}, true, nil
	}
	avail := uint64(buf.Len())
	if avail == 0 {
		return nil, false, nil
	}
	n := avail
	if n > t.remaining {
		n = t.remaining
	}
	b := append([]byte(nil), buf.Bytes()[:n]...)
	buf.Advance(int(n))
	t.remaining -= n
	if t.remaining == 0 {
		// The final bytes and EOF are not signalled together: the
		// caller's next Decode returns the zero-length EOF result.
		return b, true, nil
	}
	return b, true, nil
}

// decodeChunked implements the byte-at-a-time RFC 7230 chunk decoder,
// ported from xitca-web's ChunkedState::step. Acceptable-but-ignored
// syntax: leading zeros, chunk extensions, and linear whitespace
// before CRLF. Trailers are consumed and discarded up to the
// terminating empty line.
func (t *TransferCoding) decodeChunked(buf *ReadBuf) ([]byte, bool, error) {
	raw := buf.Bytes()
	i := 0

	defer func() {
		buf.Advance(i)
	}()

	for i < len(raw) {
		b := raw[i]
		switch t.state {
		case csSize:
			switch {
			case b >= '0' && b <= '9':
				if err := t.accumulate(uint64(b - '0')); err != nil {
					return nil, false, err
				}
			case b >= 'a' && b <= 'f':
				if err := t.accumulate(uint64(b-'a') + 10); err != nil {
					return nil, false, err
				}
			case b >= 'A' && b <= 'F':
				if err := t.accumulate(uint64(b-'A') + 10); err != nil {
					return nil, false, err
				}
			case b == '\t' || b == ' ':
				t.state = csSizeLws
			case b == ';':
				t.state = csExtension
			case b == '\r':
				t.state = csSizeLf
			default:
				return nil, false, ErrChunkSyntax
			}
			i++
		case csSizeLws:
			switch b {
			case '\t', ' ':
			case ';':
				t.state = csExtension
			case '\r':
				t.state = csSizeLf
			default:
				return nil, false, ErrChunkSyntax
			}
			i++
		case csExtension:
			switch b {
			case '\r':
				t.state = csSizeLf
			case '\n':
				return nil, false, ErrChunkSyntax
			}
			i++
		case csSizeLf:
			if b != '\n' {
				return nil, false, ErrChunkSyntax
			}
			i++
			if t.chunkSize == 0 {
				t.state = csEndCr
			} else {
				t.state = csBody
			}
		case csBody:
			remaining := len(raw) - i
			n := uint64(remaining)
			if n > t.chunkSize {
				n = t.chunkSize
			}
			out := append([]byte(nil), raw[i:i+int(n)]...)
			i += int(n)
			t.chunkSize -= n
			if t.chunkSize == 0 {
				t.state = csBodyCr
			}
			return out, true, nil
		case csBodyCr:
			if b != '\r' {
				return nil, false, ErrChunkSyntax
			}
			t.state = csBodyLf
			i++
		case csBodyLf:
			if b != '\n' {
				return nil, false, ErrChunkSyntax
			}
			t.state = csSize
			i++
		case csTrailer:
			switch b {
			case '\r':
				t.state = csTrailerLf
			}
			i++
		case csTrailerLf:
			if b != '\n' {
				return nil, false, ErrChunkSyntax
			}
			i++
			// csEndCr tells another trailer line apart from the final
			// blank line.
			t.state = csEndCr
		case csEndCr:
			switch b {
			case '\r':
				t.state = csEndLf
				i++
			default:
				t.state = csTrailer
			}
		case csEndLf:
			if b != '\n' {
				return nil, false, ErrChunkSyntax
			}
			i++
			t.state = csEnd
			return []byte{}, true, nil
		case csEnd:
			return []byte{}, true, nil
		}
	}
	return nil, false, nil
}

func (t *TransferCoding) accumulate(digit uint64) error {
	const radix = 16
	size := t.chunkSize
	size *= radix
	if size/radix != t.chunkSize {
		return ErrChunkOverflow
	}
	size += digit
	if size < t.chunkSize {
		return ErrChunkOverflow
	}
	t.chunkSize = size
	return nil
}

// Encode appends b as one frame of the response body: for chunked
// encoding, a "{hex-size}\r\n{bytes}\r\n" frame (empty writes are
// silently dropped, since an empty chunked frame would prematurely
// signal end-of-message); for Length, the raw bytes.
func (t *TransferCoding) Encode(b []byte, w WriteBuf) error {
	switch t.kind {
	case KindEncodeChunked:
		if len(b) == 0 {
			return nil
		}
		w.WriteStatic([]byte(chunkSizeLine(len(b))))
		w.WriteChunk(b)
		w.WriteStatic(crlf)
		return nil
	case KindLength:
		w.WriteChunk(b)
		return nil
	case KindUpgrade:
		w.WriteChunk(b)
		return nil
	default:
		if len(b) != 0 {
			return errors.New("proto: write on an Eof-coded body")
		}
		return nil
	}
}

// EncodeEof writes the chunked terminator ("0\r\n\r\n") for
// EncodeChunked, is a no-op for Length (the framing already bounds the
// message), and must never be called for Eof.
func (t *TransferCoding) EncodeEof(w WriteBuf) error {
	switch t.kind {
	case KindEncodeChunked:
		w.WriteStatic(chunkedTerminator)
		return nil
	case KindLength, KindUpgrade:
		return nil
	default:
		return errors.New("proto: encode_eof unreachable for Eof coding")
	}
}

var (
	crlf              = []byte("\r\n")
	chunkedTerminator = []byte("0\r\n\r\n")
)

const hexDigits = "0123456789abcdef"

func chunkSizeLine(n int) string {
	if n == 0 {
		return "0\r\n"
	}
	var buf [18]byte // up to 16 hex digits + CRLF
	i := len(buf)
	i -= 2
	copy(buf[i:], crlf)
	for n > 0 {
		i--
		buf[i] = hexDigits[n&0xf]
		n >>= 4
	}
	return string(buf[i:])
}
