package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := NewServer(opts, nil)
	r := gin.New()
	srv.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url, id string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url+"?id="+id, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) protocol.Signal {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var sig protocol.Signal
	require.NoError(t, ws.ReadJSON(&sig))
	return sig
}

func register(t *testing.T, url, id string) *websocket.Conn {
	t.Helper()
	ws := dial(t, url, id)
	sig := read(t, ws)
	require.Equal(t, protocol.SignalOpen, sig.Type)
	assert.Equal(t, id, sig.Dst)
	return ws
}

func TestRegisterAndRelay(t *testing.T) {
	srv, url := newTestServer(t, Options{})
	alice := register(t, url, "user_alice")
	bob := register(t, url, "user_bob")
	assert.Equal(t, 2, srv.Len())

	require.NoError(t, alice.WriteJSON(protocol.Signal{
		Type:         protocol.SignalOffer,
		Src:          "user_mallory",
		Dst:          "user_bob",
		ConnectionID: "dc_1",
		Kind:         protocol.KindData,
		SDP:          "v=0",
	}))
	got := read(t, bob)
	assert.Equal(t, protocol.SignalOffer, got.Type)
	assert.Equal(t, "user_alice", got.Src, "server stamps the sender")
	assert.Equal(t, "dc_1", got.ConnectionID)
	assert.Equal(t, "v=0", got.SDP)
}

func TestUnknownTargetIsReported(t *testing.T) {
	_, url := newTestServer(t, Options{})
	alice := register(t, url, "user_alice")

	require.NoError(t, alice.WriteJSON(protocol.Signal{
		Type:         protocol.SignalOffer,
		Dst:          "user_ghost",
		ConnectionID: "mc_9",
		Kind:         protocol.KindMedia,
	}))
	got := read(t, alice)
	assert.Equal(t, protocol.SignalError, got.Type)
	assert.Equal(t, protocol.ErrCodePeerUnavailable, got.Error)
	assert.Equal(t, "user_ghost", got.Src)
	assert.Equal(t, "mc_9", got.ConnectionID)
}

func TestDuplicateIDRefused(t *testing.T) {
	_, url := newTestServer(t, Options{})
	register(t, url, "user_alice")

	dup := dial(t, url, "user_alice")
	got := read(t, dup)
	assert.Equal(t, protocol.SignalError, got.Type)
	assert.Equal(t, protocol.ErrCodeIDTaken, got.Error)
}

func TestMissingIDRejected(t *testing.T) {
	_, url := newTestServer(t, Options{})
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPingAndBadFrames(t *testing.T) {
	_, url := newTestServer(t, Options{})
	ws := register(t, url, "user_alice")

	require.NoError(t, ws.WriteJSON(protocol.Signal{Type: protocol.SignalPing}))
	assert.Equal(t, protocol.SignalPong, read(t, ws).Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{nope")))
	got := read(t, ws)
	assert.Equal(t, protocol.ErrCodeInvalid, got.Error)

	require.NoError(t, ws.WriteJSON(protocol.Signal{Type: "teleport"}))
	assert.Equal(t, protocol.ErrCodeInvalid, read(t, ws).Error)
}

func TestRateLimited(t *testing.T) {
	_, url := newTestServer(t, Options{RatePerSec: 0.01, Burst: 1})
	ws := register(t, url, "user_alice")

	require.NoError(t, ws.WriteJSON(protocol.Signal{Type: protocol.SignalPing}))
	assert.Equal(t, protocol.SignalPong, read(t, ws).Type)
	require.NoError(t, ws.WriteJSON(protocol.Signal{Type: protocol.SignalPing}))
	assert.Equal(t, protocol.ErrCodeRateLimited, read(t, ws).Error)
}

func TestDisconnectUnregisters(t *testing.T) {
	srv, url := newTestServer(t, Options{})
	ws := register(t, url, "user_alice")
	require.Equal(t, 1, srv.Len())

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return srv.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	// the id is free again
	register(t, url, "user_alice")
}
