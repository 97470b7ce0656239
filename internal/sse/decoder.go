// Package sse reads and writes the line-oriented server-sent events framing
// used by both sides of the proxy:
//
//	event: <name>
//	data: <payload>
//
//	data: [DONE]
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DoneSentinel is the payload that terminates a chat-completions stream.
const DoneSentinel = "[DONE]"

var (
	dataField  = []byte("data:")
	doneMarker = []byte(DoneSentinel)
)

// Decoder yields the data payloads of an SSE stream, one per event, until
// the [DONE] sentinel, EOF or a read error. Once Next returns false the
// decoder is spent.
type Decoder struct {
	r    *bufio.Reader
	data []byte
	done bool
	end  bool
	err  error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next advances to the next event payload.
func (d *Decoder) Next() bool {
	if d.end {
		return false
	}

	var pending [][]byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			d.err = fmt.Errorf("sse: read line: %w", err)
			return d.finish()
		}
		eof := errors.Is(err, io.EOF)

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(pending) > 0 {
				if d.dispatch(pending) {
					return true
				}
				return d.finish()
			}
			if eof {
				return d.finish()
			}
			continue
		}

		// comments (": OPENROUTER PROCESSING") and event/id/retry fields
		if bytes.HasPrefix(line, dataField) {
			value := line[len(dataField):]
			value = bytes.TrimPrefix(value, []byte(" "))
			pending = append(pending, append([]byte(nil), value...))
		}

		if eof {
			// tolerate a missing blank line after the last event
			if len(pending) > 0 && d.dispatch(pending) {
				d.end = true
				return true
			}
			return d.finish()
		}
	}
}

// dispatch joins the data lines of one event. It reports false when the
// event is the [DONE] sentinel.
func (d *Decoder) dispatch(lines [][]byte) bool {
	payload := bytes.Join(lines, []byte("\n"))
	if bytes.Equal(bytes.TrimSpace(payload), doneMarker) {
		d.done = true
		return false
	}
	d.data = payload
	return true
}

func (d *Decoder) finish() bool {
	d.end = true
	d.data = nil
	return false
}

// Data returns the payload of the current event. It is valid until the
// next call to Next.
func (d *Decoder) Data() []byte {
	return d.data
}

// Done reports whether the stream ended with the [DONE] sentinel rather
// than a bare EOF.
func (d *Decoder) Done() bool {
	return d.done
}

// Err returns the read error that ended the stream, if any.
func (d *Decoder) Err() error {
	return d.err
}
