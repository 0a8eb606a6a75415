package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// FrameSplitter extracts complete FIX frames from a byte stream using the
// 9=<body_length> field and the 10= terminator, buffering partial frames
// until complete. Adapted from the read-loop idiom of a framed-transport
// connection handler, generalized from a message-type switch to raw-byte
// frame boundary detection since FIX has no native message framing.
type FrameSplitter struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

// NewFrameSplitter wraps r for frame-at-a-time reads.
func NewFrameSplitter(r io.Reader) *FrameSplitter {
	return &FrameSplitter{r: bufio.NewReaderSize(r, 4096)}
}

// Next blocks until one complete frame (tag 8 through the SOH following
// tag 10) is available, or returns an error from the underlying reader.
// Extra bytes read past a frame boundary are retained for the next call,
// tolerating concatenated messages in the stream.
func (fs *FrameSplitter) Next() ([]byte, error) {
	for {
		if frame, ok := fs.extractFrame(); ok {
			return frame, nil
		}
		chunk := make([]byte, 4096)
		n, err := fs.r.Read(chunk)
		if n > 0 {
			fs.buf.Write(chunk[:n])
		}
		if err != nil {
			if frame, ok := fs.extractFrame(); ok {
				return frame, nil
			}
			return nil, err
		}
	}
}

// extractFrame attempts to pull one complete frame out of the internal
// buffer, leaving any remainder for subsequent reads.
func (fs *FrameSplitter) extractFrame() ([]byte, bool) {
	data := fs.buf.Bytes()

	start := bytes.Index(data, []byte("8="))
	if start < 0 {
		return nil, false
	}
	if start > 0 {
		// Drop noise before the first recognizable tag 8.
		fs.buf.Next(start)
		data = fs.buf.Bytes()
	}

	bodyLenTag := []byte(fmt.Sprintf("%c%d=", SOH, TagBodyLength))
	// tag 9 may be the second field; search for SOH + "9=" after the first SOH.
	firstSOH := bytes.IndexByte(data, SOH)
	if firstSOH < 0 {
		return nil, false
	}
	nineIdx := bytes.Index(data[firstSOH:], bodyLenTag)
	if nineIdx < 0 {
		return nil, false
	}
	nineIdx += firstSOH + 1 // position of '9' in "9="
	valueStart := nineIdx + 2
	lenEnd := bytes.IndexByte(data[valueStart:], SOH)
	if lenEnd < 0 {
		return nil, false
	}
	var bodyLen int
	if _, err := fmt.Sscanf(string(data[valueStart:valueStart+lenEnd]), "%d", &bodyLen); err != nil {
		return nil, false
	}
	bodyStart := valueStart + lenEnd + 1
	checksumStart := bodyStart + bodyLen
	// Need the checksum field itself: "10=NNN" + SOH, i.e. 7 more bytes.
	frameEnd := checksumStart + 7
	if len(data) < frameEnd {
		return nil, false
	}
	frame := make([]byte, frameEnd)
	copy(frame, data[:frameEnd])
	fs.buf.Next(frameEnd)
	return frame, true
}
