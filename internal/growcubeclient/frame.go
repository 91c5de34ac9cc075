package growcubeclient

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Framing constants.
const (
	framePrefix    = "elea"
	frameSeparator = '#'
	fieldSeparator = "@"

	// maxBufferedBytes caps the decoder buffer. A peer that never completes a
	// frame cannot grow memory past this.
	maxBufferedBytes = 4096

	// maxPayloadLength is the largest payload length accepted in a header.
	maxPayloadLength = 1024
)

// Frame is a single decoded protocol message.
type Frame struct {
	Command int
	Payload string
}

// Fields splits the payload on the field separator.
func (f Frame) Fields() []string {
	if f.Payload == "" {
		return nil
	}
	return strings.Split(f.Payload, fieldSeparator)
}

// EncodeFrame renders a command id and payload into wire format.
func EncodeFrame(command int, payload string) []byte {
	return []byte(fmt.Sprintf("%s%02d%c%d%c%s%c",
		framePrefix, command, frameSeparator, len(payload), frameSeparator, payload, frameSeparator))
}

// Decoder reassembles frames from a byte stream.
//
// Bytes before a frame prefix are discarded. A header that cannot be parsed
// drops the offending prefix and resynchronises on the next one.
//
// Thread Safety: not safe for concurrent use; owned by one read loop.
type Decoder struct {
	buf     []byte
	dropped uint64
}

// Feed appends data and returns every complete frame now available.
func (d *Decoder) Feed(data []byte) []Frame {
	d.buf = append(d.buf, data...)

	var frames []Frame
	for {
		frame, consumed, res := d.next()
		d.buf = d.buf[consumed:]
		if res == needMore {
			break
		}
		if res == frameReady {
			frames = append(frames, frame)
		}
	}

	if len(d.buf) > maxBufferedBytes {
		d.dropped += uint64(len(d.buf))
		d.buf = d.buf[:0]
	}

	// Release the backing array once drained.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

// Dropped returns the number of bytes discarded as noise or malformed input.
func (d *Decoder) Dropped() uint64 {
	return d.dropped
}

// Buffered returns the number of bytes awaiting a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// decodeResult is the outcome of one decoding step.
type decodeResult int

const (
	needMore decodeResult = iota
	frameReady
	skipped
)

// next attempts to parse one frame from the head of the buffer and returns
// the number of bytes to consume.
func (d *Decoder) next() (Frame, int, decodeResult) {
	start := bytes.Index(d.buf, []byte(framePrefix))
	if start < 0 {
		// Keep a possible partial prefix at the tail.
		keep := len(framePrefix) - 1
		if len(d.buf) <= keep {
			return Frame{}, 0, needMore
		}
		drop := len(d.buf) - keep
		d.dropped += uint64(drop)
		return Frame{}, drop, needMore
	}
	if start > 0 {
		d.dropped += uint64(start)
		return Frame{}, start, skipped
	}

	frame, size, err := parseFrame(d.buf)
	switch {
	case err == nil:
		return frame, size, frameReady
	case errors.Is(err, errIncomplete):
		return Frame{}, 0, needMore
	default:
		// Skip past this prefix and look for the next one.
		d.dropped += uint64(len(framePrefix))
		return Frame{}, len(framePrefix), skipped
	}
}

// errIncomplete signals that more bytes are needed.
var errIncomplete = errors.New("growcube: incomplete frame")

// parseFrame parses a frame that starts at buf[0].
func parseFrame(buf []byte) (Frame, int, error) {
	pos := len(framePrefix)

	// Two digit command id.
	if len(buf) < pos+2 {
		return Frame{}, 0, errIncomplete
	}
	command, err := strconv.Atoi(string(buf[pos : pos+2]))
	if err != nil || command < 0 {
		return Frame{}, 0, fmt.Errorf("%w: command id %q", ErrMalformedFrame, buf[pos:pos+2])
	}
	pos += 2

	if len(buf) <= pos {
		return Frame{}, 0, errIncomplete
	}
	if buf[pos] != frameSeparator {
		return Frame{}, 0, fmt.Errorf("%w: missing separator after command", ErrMalformedFrame)
	}
	pos++

	// Decimal payload length terminated by a separator.
	end := bytes.IndexByte(buf[pos:], frameSeparator)
	if end < 0 {
		if len(buf)-pos > len(strconv.Itoa(maxPayloadLength)) {
			return Frame{}, 0, fmt.Errorf("%w: length field too long", ErrMalformedFrame)
		}
		return Frame{}, 0, errIncomplete
	}
	length, err := strconv.Atoi(string(buf[pos : pos+end]))
	if err != nil || length < 0 || length > maxPayloadLength {
		return Frame{}, 0, fmt.Errorf("%w: length %q", ErrMalformedFrame, buf[pos:pos+end])
	}
	pos += end + 1

	if len(buf) < pos+length+1 {
		return Frame{}, 0, errIncomplete
	}
	payload := string(buf[pos : pos+length])
	pos += length
	if buf[pos] != frameSeparator {
		return Frame{}, 0, fmt.Errorf("%w: missing trailing separator", ErrMalformedFrame)
	}
	pos++

	return Frame{Command: command, Payload: payload}, pos, nil
}
