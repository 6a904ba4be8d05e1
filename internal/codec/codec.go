// Package codec implements the wire framing from spec §4.1 (C1): UTF-8
// JSON packets terminated by a single NUL byte, one writer at a time
// per connection.
package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"crowdlink/internal/protocol"
)

// ErrPeerClosed is returned by Read* when the peer closed the
// connection cleanly between frames (an empty read at EOF, spec §4.1).
var ErrPeerClosed = errors.New("codec: peer closed connection")

// ErrNoPacket is returned when the stream ended mid-frame — bytes were
// read but no terminating NUL arrived before EOF. This is distinct
// from a JSON parse error: it signals the peer went away while
// writing, not that it sent malformed data.
var ErrNoPacket = errors.New("codec: no packet")

const delimiter = 0x00

// Codec frames JSON packets over a single net.Conn (or any
// io.ReadWriter, e.g. in tests). All writes on a given Codec are
// serialized behind writeMu, matching spec §4.1's "writes on a single
// connection are serialized" requirement.
type Codec struct {
	r *bufio.Reader
	w io.Writer

	writeMu sync.Mutex
}

// New wraps rw in a Codec. Reads and writes share no buffering beyond
// the reader's internal bufio.Reader, so interleaved use from a single
// goroutine on each side (one reader, one writer) is safe.
func New(rw io.ReadWriter) *Codec {
	return &Codec{r: bufio.NewReader(rw), w: rw}
}

// ReadFrame reads one NUL-delimited frame and returns its payload
// (without the trailing NUL). See ErrPeerClosed and ErrNoPacket for the
// error contract.
func (c *Codec) ReadFrame() ([]byte, error) {
	data, err := c.r.ReadBytes(delimiter)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(data) == 0 {
				return nil, ErrPeerClosed
			}
			return nil, ErrNoPacket
		}
		return nil, fmt.Errorf("codec: read: %w", err)
	}
	return bytes.TrimSuffix(data, []byte{delimiter}), nil
}

// WriteFrame serializes v to JSON, appends the NUL delimiter and
// writes it atomically with respect to other WriteFrame calls.
func (c *Codec) WriteFrame(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal: %w", err)
	}
	payload = append(payload, delimiter)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("codec: write: %w", err)
	}
	return nil
}

// DecodeError wraps a JSON parse failure so read loops can log it and
// keep reading from the next frame, per spec §4.1 ("reads never throw
// on a JSON parse error").
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("codec: decode: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// ReadRequest reads and decodes one Request frame.
func (c *Codec) ReadRequest() (*protocol.Request, error) {
	raw, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	return &req, nil
}

// ReadResponse reads and decodes one Response frame.
func (c *Codec) ReadResponse() (*protocol.Response, error) {
	raw, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	return &resp, nil
}

// WriteRequest encodes and writes a Request frame.
func (c *Codec) WriteRequest(req *protocol.Request) error { return c.WriteFrame(req) }

// WriteResponse encodes and writes a Response frame.
func (c *Codec) WriteResponse(resp *protocol.Response) error { return c.WriteFrame(resp) }
