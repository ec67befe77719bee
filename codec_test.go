package lspbridge

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`

func TestEncode_Initialize(t *testing.T) {
	payload := []byte(initializeRequest)
	require.Len(t, payload, 58)

	got := Encode(payload)

	assert.Equal(t, "Content-Length: 58\r\n\r\n"+initializeRequest, string(got))
}

func TestEncode_ByteLengthOfMultibyteText(t *testing.T) {
	payload := []byte(`{"text":"héllo wörld ✓"}`)

	got := Encode(payload)

	assert.True(t, bytes.HasPrefix(got, []byte("Content-Length: 28\r\n\r\n")), "got %q", got)
	assert.Equal(t, 28, len(payload))
}

func TestEncode_Empty(t *testing.T) {
	assert.Equal(t, "Content-Length: 0\r\n\r\n", string(Encode(nil)))
}

func TestDecode_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(initializeRequest),
		[]byte(`{"jsonrpc":"2.0","method":"initialized","params":{}}`),
		[]byte(`{"text":"日本語のテキスト"}`),
		[]byte("\r\n\r\n"),
		{},
	}

	for _, p := range payloads {
		frames, remainder := Decode(Encode(p))
		require.Len(t, frames, 1, "payload %q", p)
		assert.Equal(t, string(p), string(frames[0]))
		assert.Empty(t, remainder)
	}
}

func TestDecode_NoSeparator(t *testing.T) {
	buf := []byte("Content-Length: 5")

	frames, remainder := Decode(buf)

	assert.Empty(t, frames)
	assert.Equal(t, buf, remainder)
}

func TestDecode_PartialBody(t *testing.T) {
	encoded := Encode([]byte(initializeRequest))
	header := len(encoded) - len(initializeRequest)
	first := encoded[:header+40]

	frames, remainder := Decode(first)
	assert.Empty(t, frames)
	assert.Equal(t, string(first), string(remainder))

	next := append(append([]byte(nil), remainder...), encoded[header+40:]...)
	frames, remainder = Decode(next)
	require.Len(t, frames, 1)
	assert.Equal(t, initializeRequest, string(frames[0]))
	assert.Empty(t, remainder)
}

func TestDecode_ChunkingInvariance(t *testing.T) {
	encoded := Encode([]byte(`{"jsonrpc":"2.0","id":7,"result":{"contents":"ü"}}`))
	whole, _ := Decode(encoded)
	require.Len(t, whole, 1)

	for split := 0; split <= len(encoded); split++ {
		frames, remainder := Decode(encoded[:split])
		var got [][]byte
		got = append(got, frames...)

		next := append(append([]byte(nil), remainder...), encoded[split:]...)
		frames, remainder = Decode(next)
		got = append(got, frames...)

		require.Len(t, got, 1, "split at %d", split)
		assert.Equal(t, string(whole[0]), string(got[0]), "split at %d", split)
		assert.Empty(t, remainder, "split at %d", split)
	}
}

func TestDecode_BatchedFrames(t *testing.T) {
	a := []byte(`{"jsonrpc":"2.0","id":1,"result":null}`)
	b := []byte(`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"hi"}}`)
	buf := append(Encode(a), Encode(b)...)

	frames, remainder := Decode(buf)

	require.Len(t, frames, 2)
	assert.Equal(t, string(a), string(frames[0]))
	assert.Equal(t, string(b), string(frames[1]))
	assert.Empty(t, remainder)
}

func TestDecode_BatchedWithTrailingPartial(t *testing.T) {
	a := []byte(`{"id":1}`)
	b := Encode([]byte(`{"id":2}`))
	buf := append(Encode(a), b[:10]...)

	frames, remainder := Decode(buf)

	require.Len(t, frames, 1)
	assert.Equal(t, string(a), string(frames[0]))
	assert.Equal(t, string(b[:10]), string(remainder))
}

func TestDecode_ResyncAfterNonNumericLength(t *testing.T) {
	bad := []byte("Content-Length: abc\r\n\r\n")

	frames, remainder := Decode(bad)
	assert.Empty(t, frames)
	assert.Empty(t, remainder)

	good := []byte(`{"id":3}`)
	buf := append(append([]byte(nil), bad...), Encode(good)...)

	frames, remainder = Decode(buf)
	require.Len(t, frames, 1)
	assert.Equal(t, string(good), string(frames[0]))
	assert.Empty(t, remainder)
}

func TestDecode_ResyncAcrossReads(t *testing.T) {
	bad := []byte("Content-Length: x\r\n\r\n")
	good := Encode([]byte(`{"id":4}`))
	stream := append(append([]byte(nil), bad...), good...)

	// The garbage header arrives alone, the valid frame in two pieces.
	var got [][]byte
	var pending []byte
	for _, chunk := range [][]byte{stream[:len(bad)], stream[len(bad) : len(bad)+5], stream[len(bad)+5:]} {
		pending = append(pending, chunk...)
		frames, remainder := Decode(pending)
		got = append(got, frames...)
		pending = append([]byte(nil), remainder...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, `{"id":4}`, string(got[0]))
	assert.Empty(t, pending)
}

func TestDecode_ExtraHeaderFields(t *testing.T) {
	payload := `{"id":5}`
	buf := []byte("Content-Length: 8\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n" + payload)

	frames, remainder := Decode(buf)

	require.Len(t, frames, 1)
	assert.Equal(t, payload, string(frames[0]))
	assert.Empty(t, remainder)
}

func TestDecode_LengthOverflow(t *testing.T) {
	buf := []byte("Content-Length: 99999999999999999999999\r\n\r\n")

	frames, remainder := Decode(buf)

	assert.Empty(t, frames)
	assert.Empty(t, remainder)
}

func TestContentLengthCodec_Encode(t *testing.T) {
	var codec ContentLengthCodec

	data, err := codec.Encode(Frame(initializeRequest))
	require.NoError(t, err)
	assert.Equal(t, Encode([]byte(initializeRequest)), data)

	_, err = codec.Encode(nil)
	assert.ErrorIs(t, err, ErrNilMessage)
}

func TestContentLengthCodec_DecodeReportsSkippedHeaders(t *testing.T) {
	var codec ContentLengthCodec
	buf := append([]byte("X-One: 1\r\n\r\nX-Two: 2\r\n\r\n"), Encode([]byte(`{}`))...)

	frames, remainder, err := codec.Decode(buf)

	require.Len(t, frames, 1)
	assert.Equal(t, 2, frames[0].Length())
	assert.Empty(t, remainder)

	var skipped FrameParseErrors
	require.ErrorAs(t, err, &skipped)
	require.Len(t, skipped, 2)
	assert.Equal(t, 0, skipped[0].Offset)
	assert.Equal(t, "X-Two: 2", string(skipped[1].Header))
	assert.Contains(t, err.Error(), "2 malformed frame headers")
}

func TestContentLengthCodec_DecodeClean(t *testing.T) {
	var codec ContentLengthCodec

	frames, remainder, err := codec.Decode(Encode([]byte(`{}`)))

	assert.NoError(t, err)
	assert.Len(t, frames, 1)
	assert.Empty(t, remainder)
}

func TestFrame(t *testing.T) {
	f := Frame("héllo")
	assert.Equal(t, 6, f.Length())
	assert.Equal(t, []byte("héllo"), f.Body())
}
