package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/race/endless/config"
	"github.com/race/endless/internal/network"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*GameServer, *httptest.Server) {
	t.Helper()
	tun := config.DefaultTuning()
	tun.Traffic.MaxNPCs = 2
	gs := NewGameServer(config.DefaultServerConfig(), tun, zerolog.Nop())
	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(func() {
		ts.Close()
		gs.closeAll()
		gs.registry.Shutdown()
	})
	return gs, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads binary messages until one has the wanted type.
func readUntil(t *testing.T, ws *websocket.Conn, msgType uint8) []byte {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		if len(data) > 0 && data[0] == msgType {
			return data
		}
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinStreamsSnapshots(t *testing.T) {
	gs, ts := newTestServer(t)
	ws := dial(t, ts)
	p := network.NewProtocol()

	join := []byte{network.MsgTypeJoinSession, 9, 0, 0, 0, 0, 0, 0, 0}
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, join))

	info, err := p.DecodeSessionInfo(readUntil(t, ws, network.MsgTypeSessionInfo))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), info.Seed)
	assert.Equal(t, uint8(config.StepRate), info.StepRate)
	assert.Equal(t, 1, gs.registry.Len())

	input := p.EncodeInput(network.InputMessage{Sequence: 1, Keys: network.KeyUp})
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, input))

	snap, err := p.DecodeSnapshot(readUntil(t, ws, network.MsgTypeSnapshot))
	require.NoError(t, err)
	require.NotEmpty(t, snap.Entities)
	assert.Equal(t, network.KindPlayer, snap.Entities[0].Kind)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats struct {
		TotalSessions int `json:"totalSessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalSessions)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{network.MsgTypeLeaveSession}))
	assert.Eventually(t, func() bool { return gs.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPing(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dial(t, ts)

	ping := []byte{network.MsgTypePing, 0xAA, 0, 0, 0, 0, 0, 0, 1}
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, ping))
	pong := readUntil(t, ws, network.MsgTypePong)
	assert.Equal(t, ping[1:], pong[1:])
}

func TestSessionFull(t *testing.T) {
	gs, ts := newTestServer(t)
	gs.registry.SetLimits(0, time.Minute)
	ws := dial(t, ts)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{network.MsgTypeJoinSession}))
	msg := readUntil(t, ws, network.MsgTypeError)
	assert.Equal(t, network.ErrorCodeSessionFull, msg[1])
}

func TestDisconnectEndsSession(t *testing.T) {
	gs, ts := newTestServer(t)
	ws := dial(t, ts)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{network.MsgTypeJoinSession}))
	readUntil(t, ws, network.MsgTypeSessionInfo)
	require.Equal(t, 1, gs.registry.Len())

	ws.Close()
	assert.Eventually(t, func() bool { return gs.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return gs.connectionCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRunHeadless(t *testing.T) {
	tun := config.DefaultTuning()
	tun.Seed = 3
	sum, err := runHeadless(context.Background(), tun, 5, 30, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint64(150), sum.Frames)
	assert.InDelta(t, 5, sum.Time, 1e-6)
	assert.Positive(t, sum.Distance)
	assert.GreaterOrEqual(t, sum.Best, sum.Score)
}

func TestRunHeadlessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := runHeadless(ctx, config.DefaultTuning(), 10, 60, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, sum.Frames)
}

func TestRunHeadlessRejectsBadTuning(t *testing.T) {
	tun := config.DefaultTuning()
	tun.Road.StepLength = 0
	_, err := runHeadless(context.Background(), tun, 1, 60, zerolog.Nop())
	assert.Error(t, err)
}
