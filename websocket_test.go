package lspbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		reason string
	}{
		{"nil", nil, websocket.CloseNormalClosure, ""},
		{"client disconnect", ErrClientDisconnect, websocket.CloseNormalClosure, ""},
		{"session closed", ErrSessionClosed, websocket.CloseNormalClosure, ""},
		{"connect error", &ConnectError{Addr: "localhost:3000", Err: errors.New("connection refused")},
			websocket.CloseTryAgainLater, "backend unavailable: connection refused"},
		{"shutdown", context.Canceled, websocket.CloseGoingAway, "server shutting down"},
		{"backend disconnect", errors.Wrap(ErrBackendDisconnect, "read"), websocket.CloseGoingAway, "backend closed the connection"},
		{"too large", ErrMessageTooLarge, websocket.CloseMessageTooBig, "backend message too large"},
		{"other", errors.New("boom"), websocket.CloseInternalServerErr, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason := closeCode(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestTruncateReason(t *testing.T) {
	assert.Equal(t, "short", truncateReason("short"))

	long := strings.Repeat("a", 200)
	assert.Len(t, truncateReason(long), maxCloseReason)

	// A multibyte rune straddling the limit is dropped whole.
	multi := strings.Repeat("a", maxCloseReason-1) + "é" + "tail"
	got := truncateReason(multi)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxCloseReason-1, len(got))
}

// wsPair returns a WebSocketClient on the server side of a live connection
// and the dialing peer.
func wsPair(t *testing.T) (*WebSocketClient, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *WebSocketClient, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWebSocketClient(conn, 1024, &mockLogger{})
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	select {
	case client := <-accepted:
		t.Cleanup(func() { _ = client.Close() })
		return client, peer
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for upgrade")
		return nil, nil
	}
}

func TestWebSocketClient_ReadWrite(t *testing.T) {
	client, peer := wsPair(t)

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(initializeRequest)))
	payload, err := client.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, initializeRequest, string(payload))

	require.NoError(t, client.WriteMessage(context.Background(), []byte(`{"id":1,"result":{}}`)))
	kind, got, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, `{"id":1,"result":{}}`, string(got))
}

func TestWebSocketClient_WriteInvalidUTF8AsBinary(t *testing.T) {
	client, peer := wsPair(t)

	payload := []byte{'{', 0xff, 0xfe, '}'}
	require.NoError(t, client.WriteMessage(context.Background(), payload))

	kind, got, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, payload, got)
}

func TestWebSocketClient_Done(t *testing.T) {
	client, _ := wsPair(t)

	select {
	case <-client.Done():
		t.Fatal("Done closed before Close")
	default:
	}

	require.NoError(t, client.Close())

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
}

func TestWebSocketClient_PeerClose(t *testing.T) {
	client, peer := wsPair(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, peer.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	_, err := client.ReadMessage(context.Background())
	assert.ErrorIs(t, err, ErrClientDisconnect)
}

func TestWebSocketClient_ReadLimit(t *testing.T) {
	client, peer := wsPair(t)

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, make([]byte, 2048)))

	_, err := client.ReadMessage(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClientDisconnect)
}

func TestWebSocketClient_CloseWithError(t *testing.T) {
	client, peer := wsPair(t)

	connectErr := &ConnectError{Addr: "localhost:3000", Err: errors.New("connection refused")}
	require.NoError(t, client.CloseWithError(connectErr))
	assert.NoError(t, client.CloseWithError(ErrBackendDisconnect), "only the first close has an effect")

	_, _, err := peer.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	assert.Equal(t, "backend unavailable: connection refused", closeErr.Text)

	_, err = client.ReadMessage(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
