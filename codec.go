package lspbridge

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const headerPrefix = "Content-Length: "

var (
	headerSeparator = []byte("\r\n\r\n")
	contentLength   = regexp.MustCompile(`Content-Length: (\d+)`)
)

// ErrNilMessage is returned when encoding a nil message.
var ErrNilMessage = errors.New("nil message")

// Encode frames payload as "Content-Length: N\r\n\r\n" followed by the payload.
// N is the byte length of payload, not its character count.
func Encode(payload []byte) []byte {
	header := headerPrefix + strconv.Itoa(len(payload)) + "\r\n\r\n"
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}

// Decode extracts every complete frame from buf and returns the bytes that
// did not yet form one. Frames alias buf.
//
// Headers without a Content-Length field are skipped up to and including
// their separator. When a header is complete but its body is not, the
// remainder starts at that header, so calling Decode again with more bytes
// appended resumes where this call stopped.
func Decode(buf []byte) (frames [][]byte, remainder []byte) {
	frames, remainder, _ = decode(buf)
	return frames, remainder
}

func decode(buf []byte) (frames [][]byte, remainder []byte, skipped FrameParseErrors) {
	pos := 0
	for pos < len(buf) {
		idx := bytes.Index(buf[pos:], headerSeparator)
		if idx < 0 {
			break
		}

		headerEnd := pos + idx
		bodyStart := headerEnd + len(headerSeparator)

		length, ok := parseContentLength(buf[pos:headerEnd])
		if !ok {
			skipped = append(skipped, &FrameParseError{
				Offset: pos,
				Header: bytes.Clone(buf[pos:headerEnd]),
			})
			pos = bodyStart
			continue
		}

		if len(buf)-bodyStart < length {
			break
		}

		frames = append(frames, buf[bodyStart:bodyStart+length])
		pos = bodyStart + length
	}

	return frames, buf[pos:], skipped
}

func parseContentLength(header []byte) (int, bool) {
	m := contentLength.FindSubmatch(header)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// FrameParseErrors lists the headers skipped by a single decode pass.
type FrameParseErrors []*FrameParseError

func (e FrameParseErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d malformed frame headers: %s", len(e), strings.Join(msgs, "; "))
}

// ContentLengthCodec implements Codec for the Content-Length framing used by
// language servers.
type ContentLengthCodec struct{}

// Encode implements Codec.
func (ContentLengthCodec) Encode(message Message) ([]byte, error) {
	if message == nil {
		return nil, ErrNilMessage
	}
	return Encode(message.Body()), nil
}

// Decode implements Codec.
func (ContentLengthCodec) Decode(buf []byte) ([]Message, []byte, error) {
	raw, remainder, skipped := decode(buf)

	var frames []Message
	if len(raw) > 0 {
		frames = make([]Message, len(raw))
		for i, f := range raw {
			frames[i] = Frame(f)
		}
	}

	if len(skipped) > 0 {
		return frames, remainder, skipped
	}
	return frames, remainder, nil
}
