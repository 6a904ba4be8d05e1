package connection

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"crowdlink/internal/protocol"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

type recordingRequestHandler struct {
	requests chan *protocol.Request
}

func (h *recordingRequestHandler) HandleRequest(c *Connection, req *protocol.Request) {
	h.requests <- req
}

type recordingResponseHandler struct {
	responses chan *protocol.Response
}

func (h *recordingResponseHandler) HandleResponse(c *Connection, resp *protocol.Response) {
	h.responses <- resp
}

func waitOpen(t *testing.T, c *Connection) {
	t.Helper()
	done := make(chan struct{})
	c.OnOpen(func(*Connection) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connection never reached OPEN")
	}
}

func TestHandshakeWithoutPassword(t *testing.T) {
	recvSide, sendSide := net.Pipe()
	defer recvSide.Close()
	defer sendSide.Close()

	rh := &recordingRequestHandler{requests: make(chan *protocol.Request, 4)}
	sh := &recordingResponseHandler{responses: make(chan *protocol.Response, 4)}

	receiver := NewReceiverConnection(recvSide, rh, AuthConfig{}, testLogger())
	sender := NewSenderConnection(sendSide, sh, AuthConfig{}, testLogger())

	receiver.Start()
	sender.Start()

	waitOpen(t, receiver)
	waitOpen(t, sender)
}

func TestHandshakeWithMatchingPassword(t *testing.T) {
	recvSide, sendSide := net.Pipe()
	defer recvSide.Close()
	defer sendSide.Close()

	rh := &recordingRequestHandler{requests: make(chan *protocol.Request, 4)}
	sh := &recordingResponseHandler{responses: make(chan *protocol.Response, 4)}

	receiver := NewReceiverConnection(recvSide, rh, AuthConfig{Password: "hunter2"}, testLogger())
	sender := NewSenderConnection(sendSide, sh, AuthConfig{Password: "hunter2"}, testLogger())

	receiver.Start()
	sender.Start()

	waitOpen(t, receiver)
	waitOpen(t, sender)
}

func TestHandshakeWithWrongPasswordCloses(t *testing.T) {
	recvSide, sendSide := net.Pipe()
	defer recvSide.Close()
	defer sendSide.Close()

	rh := &recordingRequestHandler{requests: make(chan *protocol.Request, 4)}
	sh := &recordingResponseHandler{responses: make(chan *protocol.Response, 4)}

	receiver := NewReceiverConnection(recvSide, rh, AuthConfig{Password: "correct"}, testLogger())
	sender := NewSenderConnection(sendSide, sh, AuthConfig{Password: "wrong"}, testLogger())

	closed := make(chan string, 1)
	receiver.OnClose(func(_ *Connection, reason string) { closed <- reason })

	receiver.Start()
	sender.Start()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("receiver never closed on bad password")
	}
	require.NotEqual(t, StateOpen, receiver.State())
}

func TestKeepAliveEcho(t *testing.T) {
	recvSide, sendSide := net.Pipe()
	defer recvSide.Close()
	defer sendSide.Close()

	rh := &recordingRequestHandler{requests: make(chan *protocol.Request, 4)}
	sh := &recordingResponseHandler{responses: make(chan *protocol.Response, 4)}

	receiver := NewReceiverConnection(recvSide, rh, AuthConfig{}, testLogger())
	sender := NewSenderConnection(sendSide, sh, AuthConfig{}, testLogger())

	receiver.Start()
	sender.Start()
	waitOpen(t, receiver)
	waitOpen(t, sender)

	require.NoError(t, sender.SendRequest(&protocol.Request{Type: protocol.RequestKeepAlive}))

	select {
	case resp := <-sh.responses:
		require.Equal(t, protocol.PacketKeepAlive, resp.PacketType)
	case <-time.After(time.Second):
		t.Fatal("keep alive not echoed")
	}
}

func TestPlayerInfoUpdatesSource(t *testing.T) {
	recvSide, sendSide := net.Pipe()
	defer recvSide.Close()
	defer sendSide.Close()

	rh := &recordingRequestHandler{requests: make(chan *protocol.Request, 4)}
	sh := &recordingResponseHandler{responses: make(chan *protocol.Response, 4)}

	receiver := NewReceiverConnection(recvSide, rh, AuthConfig{}, testLogger())
	sender := NewSenderConnection(sendSide, sh, AuthConfig{}, testLogger())

	receiver.Start()
	sender.Start()
	waitOpen(t, receiver)
	waitOpen(t, sender)

	require.NoError(t, sender.SendRequest(&protocol.Request{
		Type:   protocol.RequestPlayerInfo,
		Source: &protocol.Source{ID: "1", Login: "qixils", Service: "TWITCH"},
	}))

	require.Eventually(t, func() bool {
		return receiver.Source() != nil && receiver.Source().Login == "qixils"
	}, time.Second, 10*time.Millisecond)
}
