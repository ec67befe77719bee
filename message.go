package lspbridge

// Message is the interface for messages relayed between client and backend.
type Message interface {
	// Length returns the byte length of the message body.
	Length() int
	// Body returns the raw message data.
	Body() []byte
}

// Frame is a single protocol payload with its header stripped.
type Frame []byte

// Length returns the byte length of the payload.
func (f Frame) Length() int {
	return len(f)
}

// Body returns the payload bytes.
func (f Frame) Body() []byte {
	return f
}

// Codec is the interface for framing messages on a byte stream.
//
// Decode works on an accumulated buffer rather than an io.Reader so that the
// caller owns the pending bytes: it appends whatever the socket returned,
// decodes every complete frame, and keeps the remainder for the next read.
type Codec interface {
	// Encode produces the wire form of a message.
	Encode(Message) ([]byte, error)
	// Decode extracts all complete frames from buf in order and returns the
	// unconsumed remainder. A non-nil error only reports skipped headers;
	// frames and remainder are valid regardless.
	Decode(buf []byte) (frames []Message, remainder []byte, err error)
}
