// Package client consumes the relay SSE stream and talks to the chat server.
package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/samsaffron/relaychat/internal/relay"
)

// ErrNoDone is returned when the stream ends without the [DONE] sentinel.
var ErrNoDone = errors.New("stream ended without [DONE]")

const maxFrameSize = 4 * 1024 * 1024

// Decoder splits an SSE body into relay events.
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	s.Split(splitFrames)
	return &Decoder{scanner: s}
}

// splitFrames is a bufio.SplitFunc on the blank line between SSE frames.
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Next returns the next event. After Done it returns io.EOF; a body that ends
// before Done yields ErrNoDone.
func (d *Decoder) Next() (relay.Event, error) {
	if d.done {
		return relay.Event{}, io.EOF
	}
	for d.scanner.Scan() {
		data, ok := frameData(d.scanner.Bytes())
		if !ok {
			continue
		}
		ev, err := relay.ParseData(data)
		if err != nil {
			return relay.Event{}, err
		}
		if ev.Kind == relay.KindDone {
			d.done = true
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return relay.Event{}, fmt.Errorf("read stream: %w", err)
	}
	return relay.Event{}, ErrNoDone
}

// frameData joins the data: lines of one frame. Frames without data (SSE
// comments, keepalives) report false.
func frameData(frame []byte) ([]byte, bool) {
	var out []byte
	found := false
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		rest, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		rest = bytes.TrimPrefix(rest, []byte(" "))
		if found {
			out = append(out, '\n')
		}
		out = append(out, rest...)
		found = true
	}
	return out, found
}
