package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"crowdlink/internal/protocol"
)

func TestWriteReadRequestRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(buf)

	req := &protocol.Request{ID: 1, Type: protocol.RequestStart, Effect: "summon", Viewer: "qixils"}
	require.NoError(t, c.WriteRequest(req))

	got, err := c.ReadRequest()
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)
	require.Equal(t, req.Type, got.Type)
	require.Equal(t, req.Effect, got.Effect)
}

func TestFramesAreNulTerminated(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(buf)

	require.NoError(t, c.WriteRequest(&protocol.Request{Type: protocol.RequestKeepAlive}))
	require.NoError(t, c.WriteRequest(&protocol.Request{Type: protocol.RequestKeepAlive}))

	raw := buf.Bytes()
	require.Equal(t, 2, bytes.Count(raw, []byte{0x00}))
	require.Equal(t, byte(0x00), raw[len(raw)-1])
}

func TestReadFrameMultiplePackets(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(buf)

	require.NoError(t, c.WriteRequest(&protocol.Request{ID: 1, Type: protocol.RequestStart, Effect: "a", Viewer: "v"}))
	require.NoError(t, c.WriteRequest(&protocol.Request{ID: 2, Type: protocol.RequestStop, Effect: "a", Viewer: "v"}))

	first, err := c.ReadRequest()
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)

	second, err := c.ReadRequest()
	require.NoError(t, err)
	require.Equal(t, int64(2), second.ID)
}

func TestReadFramePeerClosedCleanly(t *testing.T) {
	c := New(bytes.NewReader(nil))

	_, err := c.ReadFrame()
	require.True(t, errors.Is(err, ErrPeerClosed))
}

func TestReadFrameUnterminatedAtEOF(t *testing.T) {
	c := New(bytes.NewReader([]byte(`{"id":1`)))

	_, err := c.ReadFrame()
	require.True(t, errors.Is(err, ErrNoPacket))
}

func TestReadFrameMalformedJSONIsRecoverable(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte(`not json`))
	buf.WriteByte(0x00)
	require.NoError(t, (&protocol.Request{ID: 2, Type: protocol.RequestKeepAlive}).Validate())

	c := New(buf)

	_, err := c.ReadRequest()
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))

	req := &protocol.Request{ID: 2, Type: protocol.RequestKeepAlive}
	require.NoError(t, c.WriteRequest(req))

	got, err := c.ReadRequest()
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)
}

// errWriter always fails, to exercise the write error path.
type errWriter struct{}

func (errWriter) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFramePropagatesIOError(t *testing.T) {
	c := New(struct {
		io.Reader
		io.Writer
	}{bytes.NewReader(nil), errWriter{}})

	err := c.WriteFrame(&protocol.Request{Type: protocol.RequestKeepAlive})
	require.Error(t, err)
}
