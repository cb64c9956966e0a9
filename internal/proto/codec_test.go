package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// decodeAll feeds the whole payload through coding.Decode in one call,
// draining every returned chunk.
func decodeAll(t *testing.T, coding *TransferCoding, payload []byte) []byte {
	t.Helper()
	buf := NewReadBuf(len(payload) + 64)
	buf.Grow(payload)

	var out []byte
	for {
		chunk, ok, err := coding.Decode(buf)
		require.NoError(t, err)
		if !ok {
			break
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	return out
}

func TestChunkedDecode_WholeMessage(t *testing.T) {
	coding := DecodeChunked()
	out := decodeAll(t, &coding, []byte("5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"))
	require.Equal(t, "hello world", string(out))
	require.True(t, coding.IsComplete())
}

// TestChunkedDecode_RestartAtEveryByteBoundary is the spec's byte-
// boundary restartability property (§8): feeding the same message one
// byte at a time through a ReadBuf/TransferCoding pair must produce
// exactly the same decoded bytes as feeding it whole.
func TestChunkedDecode_RestartAtEveryByteBoundary(t *testing.T) {
	msg := []byte("4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n")
	whole := DecodeChunked()
	want := decodeAll(t, &whole, msg)

	coding := DecodeChunked()
	buf := NewReadBuf(len(msg) + 64)
	var got []byte
	for i := 0; i < len(msg); i++ {
		buf.Grow(msg[i : i+1])
		for {
			chunk, ok, err := coding.Decode(buf)
			require.NoError(t, err)
			if !ok {
				break
			}
			if len(chunk) == 0 {
				break
			}
			got = append(got, chunk...)
		}
		if coding.IsComplete() {
			break
		}
	}

	require.Equal(t, string(want), string(got))
	require.True(t, coding.IsComplete())
}

func TestChunkedDecode_RejectsOverflow(t *testing.T) {
	coding := DecodeChunked()
	buf := NewReadBuf(64)
	buf.Grow([]byte("FFFFFFFFFFFFFFFFF\r\n"))
	_, _, err := coding.Decode(buf)
	require.ErrorIs(t, err, ErrChunkOverflow)
}

func TestLengthDecode_ExactBoundary(t *testing.T) {
	coding := Length(11)
	out := decodeAll(t, &coding, []byte("hello world"))
	require.Equal(t, "hello world", string(out))
	require.True(t, coding.IsComplete())
}

func TestTrySet_ConflictingFraming(t *testing.T) {
	coding := DecodeChunked()
	err := coding.TrySet(Length(10))
	require.ErrorIs(t, err, ErrConflictingFraming)
}

func TestEncodeChunked_RoundTrip(t *testing.T) {
	enc := EncodeChunked()
	w := NewFlatWriteBuf(1 << 20)
	require.NoError(t, enc.Encode([]byte("hello"), w))
	require.NoError(t, enc.EncodeEof(w))

	dec := DecodeChunked()
	out := decodeAll(t, &dec, w.buf.Bytes())
	require.Equal(t, "hello", string(out))
}
