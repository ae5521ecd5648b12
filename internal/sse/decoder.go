package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"time"
)

// DefaultMaxFrameSize bounds a single line of the stream.
const DefaultMaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned when a line exceeds the decoder's buffer.
var ErrFrameTooLarge = errors.New("sse: frame too large")

// Frame is one dispatched event.
type Frame struct {
	Event string        // empty for unnamed "message" frames
	Data  []byte        // data lines joined with '\n'
	ID    string        // last event ID seen on the stream
	Retry time.Duration // zero unless the frame carried a retry field
}

// Name returns the event name, defaulting to "message".
func (f Frame) Name() string {
	if f.Event == "" {
		return "message"
	}
	return f.Event
}

// Decoder reads frames from an event stream.
type Decoder struct {
	sc     *bufio.Scanner
	lastID string
	first  bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), DefaultMaxFrameSize)
	sc.Split(scanLines)
	return &Decoder{sc: sc, first: true}
}

// LastEventID returns the most recent id field seen.
func (d *Decoder) LastEventID() string {
	return d.lastID
}

// Next returns the next frame. It returns io.EOF when the stream ends;
// a partially accumulated frame at EOF is discarded.
func (d *Decoder) Next() (Frame, error) {
	var (
		f       Frame
		data    bytes.Buffer
		hasData bool
	)

	for d.sc.Scan() {
		line := d.sc.Bytes()
		if d.first {
			line = bytes.TrimPrefix(line, []byte("\xEF\xBB\xBF"))
			d.first = false
		}

		if len(line) == 0 {
			if !hasData {
				f = Frame{}
				continue
			}
			f.Data = data.Bytes()
			f.ID = d.lastID
			return f, nil
		}

		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch string(field) {
		case "event":
			f.Event = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		case "id":
			if bytes.IndexByte(value, 0) < 0 {
				d.lastID = string(value)
			}
		case "retry":
			if ms, err := strconv.ParseInt(string(value), 10, 64); err == nil && ms >= 0 {
				f.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := d.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Frame{}, ErrFrameTooLarge
		}
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// scanLines splits on LF, CRLF or a lone CR.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		switch b {
		case '\n':
			return i + 1, data[:i], nil
		case '\r':
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}
			// Need one more byte to tell CR from CRLF.
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
