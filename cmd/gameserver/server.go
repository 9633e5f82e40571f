package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/race/endless/config"
	"github.com/race/endless/internal/game"
	"github.com/race/endless/internal/network"
	"github.com/race/endless/internal/physics/boxworld"
	"github.com/race/endless/internal/registry"
	"github.com/rs/zerolog"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
	maxMessageSize  = 512
	sendBufferSize  = 256
	cleanupInterval = 30 * time.Second
	statsInterval   = 5 * time.Minute
)

// GameServer accepts WebSocket connections and gives each one its own session.
type GameServer struct {
	config   *config.ServerConfig
	registry *registry.Registry
	protocol *network.Protocol
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// ctx outlives requests and bounds every session runner.
	ctx context.Context

	mu          sync.Mutex
	connections map[*ClientConnection]struct{}
}

// ClientConnection represents a single connected client.
// Each client has its own goroutines for reading and writing messages.
type ClientConnection struct {
	ws       *websocket.Conn
	server   *GameServer
	log      zerolog.Logger
	sendChan chan []byte
	done     chan struct{}

	closeOnce   sync.Once
	cleanupOnce sync.Once

	mu        sync.Mutex
	sessionID string
	runner    *game.Runner
}

// NewGameServer creates and initializes a new game server instance.
func NewGameServer(cfg *config.ServerConfig, tuning config.Tuning, log zerolog.Logger) *GameServer {
	return &GameServer{
		config:   cfg,
		registry: registry.New(tuning, boxworld.Factory(tuning.Physics.BroadphaseCell), log),
		protocol: network.NewProtocol(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.EnableCORS
			},
		},
		log:         log,
		ctx:         context.Background(),
		connections: make(map[*ClientConnection]struct{}),
	}
}

// Handler returns the HTTP routes.
func (s *GameServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Start serves until ctx is cancelled, then stops every session.
func (s *GameServer) Start(ctx context.Context) error {
	s.ctx = ctx
	go s.housekeeping(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.registry.Shutdown()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeAll()
	s.registry.Shutdown()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// housekeeping reaps idle sessions and logs stats while sessions are live.
func (s *GameServer) housekeeping(ctx context.Context) {
	cleanup := time.NewTicker(cleanupInterval)
	stats := time.NewTicker(statsInterval)
	defer cleanup.Stop()
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			if removed := s.registry.CleanupIdle(); removed > 0 {
				s.log.Info().Int("removed", removed).Msg("cleaned up idle sessions")
			}
		case <-stats.C:
			if n := s.registry.Len(); n > 0 {
				s.log.Info().Int("sessions", n).Int("connections", s.connectionCount()).Msg("stats")
			}
		}
	}
}

func (s *GameServer) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

func (s *GameServer) closeAll() {
	s.mu.Lock()
	conns := make([]*ClientConnection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// handleHealth responds to health check requests.
func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleStats returns current server statistics as JSON.
func (s *GameServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.registry.GetStats()); err != nil {
		s.log.Warn().Err(err).Msg("write stats")
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket and manages client lifecycle.
func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &ClientConnection{
		ws:       ws,
		server:   s,
		log:      s.log.With().Str("remote", ws.RemoteAddr().String()).Logger(),
		sendChan: make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.connections[conn] = struct{}{}
	s.mu.Unlock()

	conn.log.Info().Msg("new connection")

	go conn.writePump()
	go conn.readPump()
}

// Send queues data to be sent to the client.
// Non-blocking: drops the message if the buffer is full.
func (c *ClientConnection) Send(data []byte) error {
	select {
	case c.sendChan <- data:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	default:
		return nil
	}
}

// Close shuts down the connection. Safe to call multiple times.
func (c *ClientConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// writePump sends queued messages and periodic pings.
func (c *ClientConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.cleanup()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.sendChan:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump receives messages and dispatches them by type.
func (c *ClientConnection) readPump() {
	defer c.cleanup()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage dispatches on the first byte, which is always the message type.
func (c *ClientConnection) handleMessage(data []byte) {
	if len(data) == 0 {
		return
	}

	switch data[0] {
	case network.MsgTypeJoinSession:
		c.handleJoin(data)
	case network.MsgTypeInput:
		c.handleInput(data)
	case network.MsgTypePing:
		c.handlePing(data)
	case network.MsgTypeLeaveSession:
		c.leave()
	default:
		c.Send(c.server.protocol.EncodeError(network.ErrorCodeInvalidMessage, "unknown message type"))
	}
}

// handleJoin creates a session for this connection and starts streaming it.
func (c *ClientConnection) handleJoin(data []byte) {
	msg, err := c.server.protocol.DecodeJoin(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("invalid join message")
		c.Send(c.server.protocol.EncodeError(network.ErrorCodeInvalidMessage, err.Error()))
		return
	}

	c.mu.Lock()
	joined := c.runner != nil
	c.mu.Unlock()
	if joined {
		return
	}

	seed := msg.Seed
	if !msg.HasSeed {
		seed = rand.Uint64()
	}

	id, runner, err := c.server.registry.Create(c.server.ctx, seed)
	if err != nil {
		code := network.ErrorCodeServerError
		if errors.Is(err, game.ErrSessionFull) {
			code = network.ErrorCodeSessionFull
		}
		c.log.Warn().Err(err).Msg("session not created")
		c.Send(c.server.protocol.EncodeError(code, err.Error()))
		return
	}

	c.mu.Lock()
	c.sessionID = id
	c.runner = runner
	c.mu.Unlock()

	c.Send(c.server.protocol.EncodeSessionInfo(network.SessionInfoMessage{
		SessionID:    id,
		Seed:         seed,
		StepRate:     config.StepRate,
		SnapshotRate: config.SnapshotRate,
	}))
	go c.stream(runner)

	c.log.Info().Str("session", id).Uint64("seed", seed).Msg("joined session")
}

// stream forwards snapshots and score events until the runner or connection ends.
func (c *ClientConnection) stream(runner *game.Runner) {
	p := c.server.protocol
	for {
		select {
		case <-c.done:
			return
		case <-runner.Done():
			return
		case snap := <-runner.Snapshots():
			c.Send(p.EncodeSnapshot(network.ConvertSnapshot(snap)))
		case ev := <-runner.Scores():
			c.Send(p.EncodeScore(uint8(ev.Kind), int32(ev.Delta), int32(ev.Total)))
		}
	}
}

// handleInput hands controls to the session latch. Clients that keep sending
// malformed or excessive input lose their session.
func (c *ClientConnection) handleInput(data []byte) {
	c.mu.Lock()
	runner := c.runner
	c.mu.Unlock()
	if runner == nil {
		return
	}

	msg, err := c.server.protocol.DecodeInput(data)
	if err != nil {
		return
	}

	latch := runner.Input()
	if verdict := latch.Submit(msg.Controls()); verdict != game.InputAccepted {
		c.log.Debug().Stringer("verdict", verdict).Uint8("seq", msg.Sequence).Msg("input not accepted")
	}
	if latch.Exceeded() {
		c.log.Warn().Int("violations", latch.Violations()).Msg("kicking client")
		c.Send(c.server.protocol.EncodeError(network.ErrorCodeKicked, "too many invalid inputs"))
		c.leave()
	}
}

// handlePing echoes the client timestamp for round-trip measurement.
func (c *ClientConnection) handlePing(data []byte) {
	msg, err := c.server.protocol.DecodePing(data)
	if err != nil {
		return
	}
	c.Send(c.server.protocol.EncodePong(msg.Timestamp))
}

// leave stops this connection's session, if any.
func (c *ClientConnection) leave() {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.runner = nil
	c.mu.Unlock()

	if id != "" {
		c.server.registry.Remove(id)
	}
}

// cleanup removes the connection from tracking and ends its session.
func (c *ClientConnection) cleanup() {
	c.cleanupOnce.Do(func() {
		c.server.mu.Lock()
		delete(c.server.connections, c)
		c.server.mu.Unlock()

		c.leave()
		c.Close()
		c.log.Info().Msg("connection closed")
	})
}
