package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyberinferno/railserver/utils"
)

var (
	// ErrMalformedPayload is returned when a complete frame carries a payload
	// that is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrPayloadTooLarge is returned by the Decoder when a frame declares a
	// payload longer than the configured limit. The stream cannot be
	// resynchronised after this error.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Frame is one complete unit on the wire. Code holds an Action for
// client-to-server frames and a Result for server-to-client frames.
type Frame struct {
	Code    uint32
	Payload []byte
}

// Action returns the frame code interpreted as a request action.
func (f Frame) Action() Action {
	return Action(f.Code)
}

// Result returns the frame code interpreted as a response result.
func (f Frame) Result() Result {
	return Result(f.Code)
}

// Object decodes the payload as a JSON object. An empty payload decodes to
// an empty object. Numbers are kept as json.Number so callers can coerce
// them without float rounding.
//
// Returns:
//   - The decoded key-value mapping
//   - ErrMalformedPayload if the payload is not valid JSON or not an object
func (f Frame) Object() (map[string]any, error) {
	if len(bytes.TrimSpace(f.Payload)) == 0 {
		return map[string]any{}, nil
	}

	if !utils.IsJsonObject(f.Payload) {
		return nil, ErrMalformedPayload
	}

	dec := json.NewDecoder(bytes.NewReader(f.Payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return obj, nil
}

// Encode builds the wire representation of a frame: code, payload length and
// payload bytes. A nil payload is encoded with a zero length.
//
// Parameters:
//   - code: The action or result code
//   - payload: The payload bytes, may be nil
//
// Returns:
//   - The encoded frame
func Encode(code uint32, payload []byte) []byte {
	header := EncodeHeader(code, len(payload))
	return utils.JoinBytes(header, payload)
}

// EncodeHeader returns the two header fields for a frame whose payload has
// the given length.
func EncodeHeader(code uint32, length int) []byte {
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[:ActionHeaderSize], code)
	binary.LittleEndian.PutUint32(header[ActionHeaderSize:], uint32(length))
	return header
}

// Decoder turns an arbitrary byte stream into frames. Bytes are fed with
// Feed in whatever chunks the transport delivers them; Next yields frames
// once all three fields are present. Partial frames stay buffered between
// calls. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf        []byte
	code       uint32
	length     int
	haveCode   bool
	haveLength bool
	maxPayload int
}

// NewDecoder creates a Decoder. A maxPayload of zero or less disables the
// payload length limit.
func NewDecoder(maxPayload int) *Decoder {
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends received bytes to the decoder buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes received but not yet consumed by a
// complete frame, including any header fields already parsed.
func (d *Decoder) Buffered() int {
	n := len(d.buf)
	if d.haveCode {
		n += ActionHeaderSize
	}

	if d.haveLength {
		n += LengthHeaderSize
	}

	return n
}

// Next decodes the next complete frame from the buffered bytes.
//
// Returns:
//   - The decoded frame and true when a frame is complete
//   - false when more bytes are needed; nothing is discarded in that case
//   - ErrPayloadTooLarge when the declared length exceeds the limit
func (d *Decoder) Next() (Frame, bool, error) {
	if !d.haveCode {
		if len(d.buf) < ActionHeaderSize {
			return Frame{}, false, nil
		}

		d.code = binary.LittleEndian.Uint32(d.buf[:ActionHeaderSize])
		d.buf = d.buf[ActionHeaderSize:]
		d.haveCode = true
	}

	if !d.haveLength {
		if len(d.buf) < LengthHeaderSize {
			return Frame{}, false, nil
		}

		d.length = int(binary.LittleEndian.Uint32(d.buf[:LengthHeaderSize]))
		if d.maxPayload > 0 && d.length > d.maxPayload {
			return Frame{}, false, fmt.Errorf("%w: %d bytes declared, limit %d", ErrPayloadTooLarge, d.length, d.maxPayload)
		}

		d.buf = d.buf[LengthHeaderSize:]
		d.haveLength = true
	}

	if len(d.buf) < d.length {
		return Frame{}, false, nil
	}

	frame := Frame{Code: d.code}
	if d.length > 0 {
		frame.Payload = make([]byte, d.length)
		copy(frame.Payload, d.buf[:d.length])
	}

	d.buf = d.buf[d.length:]
	if len(d.buf) == 0 {
		d.buf = nil
	}

	d.code, d.length = 0, 0
	d.haveCode, d.haveLength = false, false

	return frame, true, nil
}

// Decode is the stateless form of the decoder: it decodes one frame from the
// start of buf and returns the unconsumed remainder. When buf holds no
// complete frame, ok is false and rest is buf itself.
func Decode(buf []byte) (frame Frame, rest []byte, ok bool) {
	if len(buf) < HeaderSize {
		return Frame{}, buf, false
	}

	length := int(binary.LittleEndian.Uint32(buf[ActionHeaderSize:HeaderSize]))
	if len(buf) < HeaderSize+length {
		return Frame{}, buf, false
	}

	frame.Code = binary.LittleEndian.Uint32(buf[:ActionHeaderSize])
	if length > 0 {
		frame.Payload = append([]byte(nil), buf[HeaderSize:HeaderSize+length]...)
	}

	return frame, buf[HeaderSize+length:], true
}
