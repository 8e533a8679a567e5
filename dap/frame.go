package dap

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxFrameSize is the largest body a Decoder accepts before failing
// with ErrFrameTooLarge. Debug adapters are low-volume; this bound exists to
// keep a misbehaving adapter from exhausting memory rather than to permit
// any particular legitimate message size.
const DefaultMaxFrameSize = 64 << 20 // 64MiB

// ErrFrameTooLarge is returned by Decoder.Feed when a declared Content-Length
// exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("dap: frame exceeds maximum size")

// ErrMalformedHeader is returned when a header block cannot be parsed.
var ErrMalformedHeader = errors.New("dap: malformed frame header")

// Encode wraps a JSON body in the DAP wire format:
// "Content-Length: N\r\n\r\n<N-byte body>".
func Encode(body []byte) []byte {
	out := make([]byte, 0, len(body)+32)
	out = append(out, "Content-Length: "...)
	out = strconv.AppendInt(out, int64(len(body)), 10)
	out = append(out, "\r\n\r\n"...)
	out = append(out, body...)
	return out
}

// Decoder is a stateful incremental parser for the DAP wire format. It is
// fed arbitrary byte chunks (as delivered by a Transport) and emits complete
// JSON body frames as soon as they are available. A single Feed call may
// yield zero, one, or many frames, and a frame may span multiple Feed calls.
//
// Decoder is not safe for concurrent use; callers (Transport implementations)
// feed it from a single reader goroutine.
type Decoder struct {
	buf        bytes.Buffer
	maxFrame   int
	contentLen int
	haveLen    bool
}

// NewDecoder returns a Decoder that rejects frames larger than maxFrame
// bytes. A maxFrame of 0 selects DefaultMaxFrameSize.
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Decoder{maxFrame: maxFrame}
}

// Feed appends p to the internal buffer and returns every complete frame
// body that can now be extracted. An error is terminal: the caller must
// close the transport and must not call Feed again.
func (d *Decoder) Feed(p []byte) (frames [][]byte, err error) {
	d.buf.Write(p)

	for {
		if !d.haveLen {
			idx := bytes.Index(d.buf.Bytes(), []byte("\r\n\r\n"))
			if idx < 0 {
				if d.buf.Len() > 8<<10 {
					// An 8KiB header block with no terminator is never valid.
					return frames, errors.Wrap(ErrMalformedHeader, "header block exceeds 8KiB without terminator")
				}
				return frames, nil
			}

			header := d.buf.Bytes()[:idx]
			n, err := parseContentLength(header)
			if err != nil {
				return frames, err
			}
			if n > d.maxFrame {
				return frames, errors.Wrapf(ErrFrameTooLarge, "declared length %d exceeds maximum %d", n, d.maxFrame)
			}

			d.contentLen = n
			d.haveLen = true
			d.buf.Next(idx + 4)
		}

		if d.buf.Len() < d.contentLen {
			return frames, nil
		}

		body := make([]byte, d.contentLen)
		copy(body, d.buf.Next(d.contentLen))
		frames = append(frames, body)
		d.haveLen = false
		d.contentLen = 0
	}
}

// parseContentLength parses a block of "\r\n"-separated header lines and
// returns the value of the (case-insensitive) Content-Length header. Other
// headers are accepted and ignored, matching real adapters that sometimes
// emit a Content-Type header alongside it.
func parseContentLength(header []byte) (int, error) {
	lines := strings.Split(string(header), "\r\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return 0, errors.Wrapf(ErrMalformedHeader, "invalid header line %q", line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		if key != "content-length" {
			continue
		}
		value := strings.TrimSpace(line[colon+1:])
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, errors.Wrapf(ErrMalformedHeader, "invalid Content-Length %q", value)
		}
		return n, nil
	}
	return 0, errors.Wrap(ErrMalformedHeader, "missing Content-Length header")
}

// FormatFrameError renders a decode error the way Transport implementations
// should surface it through onError before closing.
func FormatFrameError(err error) error {
	return fmt.Errorf("dap: frame decode error: %w", err)
}
