package receiver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"crowdlink/internal/connection"
	"crowdlink/internal/protocol"
	"crowdlink/internal/protoerr"
)

func pipeConnections(t *testing.T, handler connection.RequestHandler) (*connection.Connection, *connection.Connection) {
	t.Helper()
	a, b := net.Pipe()
	recv := connection.NewReceiverConnection(a, handler, connection.AuthConfig{}, zerolog.Nop())
	send := connection.NewSenderConnection(b, recordingResponseHandler{}, connection.AuthConfig{}, zerolog.Nop())
	recv.Start()
	send.Start()

	require.Eventually(t, func() bool { return recv.IsOpen() && send.IsOpen() }, time.Second, 5*time.Millisecond)
	return recv, send
}

type recordingResponseHandler struct{}

func (recordingResponseHandler) HandleResponse(*connection.Connection, *protocol.Response) {}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRouter(0, zerolog.Nop())
	entry := HandlerEntry{Handler: func(context.Context, *connection.Connection, *protocol.Request) (*protocol.Response, error) {
		return nil, nil
	}}
	require.NoError(t, r.Register("Summon", entry))
	err := r.Register("summon", entry)
	require.Error(t, err)
	require.True(t, errors.Is(err, protoerr.ErrDuplicateHandler))
}

func TestDispatchUnknownEffectIsUnavailable(t *testing.T) {
	r := NewRouter(0, zerolog.Nop())

	a, b := net.Pipe()
	recv := connection.NewReceiverConnection(a, r, connection.AuthConfig{}, zerolog.Nop())
	respCh := make(chan *protocol.Response, 2)
	send := connection.NewSenderConnection(b, &capturingHandler{ch: respCh}, connection.AuthConfig{}, zerolog.Nop())
	recv.Start()
	send.Start()
	defer recv.Close("test done")
	defer send.Close("test done")

	require.Eventually(t, func() bool { return recv.IsOpen() && send.IsOpen() }, time.Second, 5*time.Millisecond)
	require.NoError(t, send.SendRequest(&protocol.Request{ID: 1, Type: protocol.RequestStart, Effect: "unknown", Viewer: "v"}))

	select {
	case resp := <-respCh:
		require.Equal(t, protocol.ResultUnavailable, *resp.ResultType)
	case <-time.After(time.Second):
		t.Fatal("no EFFECT_RESULT/UNAVAILABLE received")
	}

	select {
	case resp := <-respCh:
		require.Equal(t, protocol.ResultNotVisible, *resp.ResultType)
	case <-time.After(time.Second):
		t.Fatal("no EFFECT_STATUS/NOT_VISIBLE received")
	}
}

type capturingHandler struct {
	ch chan *protocol.Response
}

func (c *capturingHandler) HandleResponse(_ *connection.Connection, resp *protocol.Response) {
	c.ch <- resp
}

func TestDispatchRoutesToHandler(t *testing.T) {
	r := NewRouter(0, zerolog.Nop())
	called := make(chan *protocol.Request, 1)
	require.NoError(t, r.Register("summon", HandlerEntry{
		Handler: func(_ context.Context, c *connection.Connection, req *protocol.Request) (*protocol.Response, error) {
			called <- req
			return protocol.EffectSuccess(req.ID, "done"), nil
		},
	}))

	recv, send := pipeConnections(t, r)
	defer recv.Close("test done")
	defer send.Close("test done")

	require.NoError(t, send.SendRequest(&protocol.Request{ID: 1, Type: protocol.RequestStart, Effect: "Summon", Viewer: "qixils"}))

	select {
	case req := <-called:
		require.Equal(t, "summon", req.Effect)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestTranslateNoApplicableTarget(t *testing.T) {
	r := NewRouter(0, zerolog.Nop())
	resp := r.translateError(&protocol.Request{ID: 1}, protoerr.ErrNoApplicableTarget)
	require.Equal(t, "Streamer(s) unavailable", resp.Message)
}

func TestGlobalCheckShortCircuits(t *testing.T) {
	r := NewRouter(0, zerolog.Nop())
	checked := false
	r.AddGlobalCheck(func(c *connection.Connection, req *protocol.Request) bool {
		checked = true
		return false
	})
	require.NoError(t, r.Register("summon", HandlerEntry{Handler: func(context.Context, *connection.Connection, *protocol.Request) (*protocol.Response, error) {
		t.Fatal("handler should not run")
		return nil, nil
	}}))

	recv, send := pipeConnections(t, r)
	defer recv.Close("test done")
	defer send.Close("test done")

	require.NoError(t, send.SendRequest(&protocol.Request{ID: 1, Type: protocol.RequestStart, Effect: "summon", Viewer: "v"}))
	require.Eventually(t, func() bool { return checked }, time.Second, 5*time.Millisecond)
}
