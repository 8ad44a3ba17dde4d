package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

type testServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	headers chan http.Header
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := &testServer{
		conns:   make(chan *websocket.Conn, 4),
		headers: make(chan http.Header, 4),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.headers <- r.Header.Clone()
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func newTestClient(url string, backoff []int) *Client {
	c := NewClient(url, "secret", backoff)
	c.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c
}

func TestClientExchangesFrames(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	c := newTestClient(ts.wsURL(), []int{10})
	frames := make(chan []byte, 4)
	c.SetMessageHandler(func(frame []byte) { frames <- frame })

	require.ErrorIs(t, c.Send(protocol.Ping{}), ErrNotConnected)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	require.True(t, c.Connected())

	server := ts.accept(t)
	require.Equal(t, "Bearer secret", (<-ts.headers).Get("Authorization"))

	require.NoError(t, c.Send(protocol.LoadMessages{SessionID: "s1", Limit: 50}))
	_, data, err := server.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"load_messages","session_id":"s1","limit":50,"offset":0}`, string(data))

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{0x1}))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"sessions_list","sessions":[]}`)))
	require.JSONEq(t, `{"type":"pong"}`, string(<-frames))
	require.JSONEq(t, `{"type":"sessions_list","sessions":[]}`, string(<-frames))
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	c := newTestClient(ts.wsURL(), []int{10, 20})
	connects := make(chan struct{}, 4)
	drops := make(chan error, 4)
	c.SetOnConnect(func() { connects <- struct{}{} })
	c.SetOnDisconnect(func(err error) { drops <- err })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	<-connects
	first := ts.accept(t)
	require.NoError(t, first.Close())

	select {
	case err := <-drops:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect hook not called")
	}

	select {
	case <-connects:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect")
	}
	ts.accept(t)
	require.Eventually(t, c.Connected, 5*time.Second, 10*time.Millisecond)
}

func TestCloseDoesNotReportDisconnect(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	c := newTestClient(ts.wsURL(), []int{10})
	drops := make(chan error, 1)
	c.SetOnDisconnect(func(err error) { drops <- err })

	require.NoError(t, c.Connect(context.Background()))
	ts.accept(t)
	c.Close()
	c.Close()

	require.False(t, c.Connected())
	require.ErrorIs(t, c.Send(protocol.Ping{}), ErrNotConnected)
	require.Error(t, c.Connect(context.Background()))
	select {
	case <-drops:
		t.Fatal("disconnect reported after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient("ws://127.0.0.1:1/ws", []int{10})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, c.Connect(ctx))
	require.False(t, c.Connected())
}
