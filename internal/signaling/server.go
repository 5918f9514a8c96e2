package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meshrtc/signaling-relay/internal/metrics"
	"github.com/meshrtc/signaling-relay/internal/origin"
	"github.com/meshrtc/signaling-relay/internal/ratelimit"
)

// Config wires together the runtime dependencies for the signaling server.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins widens the browser Origin policy beyond the default
	// same-host rule. "*" allows any origin.
	AllowedOrigins []string

	// Inbound hardening.
	MaxMessageBytes   int64
	MessagesPerSecond int

	// Outbound queue depth per connection. A connection whose queue fills up
	// is dropped rather than allowed to stall the router.
	SendQueueSize int

	// Keepalive: a connection that produces no frames (including pongs) for
	// IdleTimeout is torn down. PingInterval must be shorter than IdleTimeout.
	IdleTimeout  time.Duration
	PingInterval time.Duration
}

const (
	defaultMaxMessageBytes   = 64 * 1024
	defaultMessagesPerSecond = 50
	defaultSendQueueSize     = 64
	defaultIdleTimeout       = 60 * time.Second
	defaultPingInterval      = 20 * time.Second
)

// Server is the WebSocket signaling endpoint.
//
// One mutex serializes every state-mutating event (inbound message, socket
// close) across all connections, so each handler is a single atomic pass over
// the registry and room directory: either every mutation it performs commits,
// or none does. Socket writes are queue pushes drained by per-connection
// write pumps, so holding the lock across a broadcast never blocks on IO.
type Server struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	maxMessageBytes   int64
	messagesPerSecond int
	sendQueueSize     int
	idleTimeout       time.Duration
	pingInterval      time.Duration

	now func() time.Time

	mu       sync.Mutex
	registry *registry
	rooms    *roomDirectory
	closing  bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = defaultMessagesPerSecond
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	allowed := cfg.AllowedOrigins
	return &Server{
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				header := r.Header.Get("Origin")
				if header == "" {
					// Non-browser clients don't send an Origin header.
					return true
				}
				norm, host, ok := origin.Normalize(header)
				return ok && origin.Allowed(norm, host, r.Host, allowed)
			},
		},
		maxMessageBytes:   cfg.MaxMessageBytes,
		messagesPerSecond: cfg.MessagesPerSecond,
		sendQueueSize:     cfg.SendQueueSize,
		idleTimeout:       cfg.IdleTimeout,
		pingInterval:      cfg.PingInterval,
		now:               time.Now,
		registry:          newRegistry(),
		rooms:             newRoomDirectory(),
	}
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	p := newPeer(conn, s.sendQueueSize)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	c := s.registry.register(connID, p)
	s.mu.Unlock()

	s.metrics.Inc(metrics.ConnectionOpened)
	s.log.Info("connection open", "connection_id", connID, "remote_addr", r.RemoteAddr)

	go p.writePump(s.pingInterval)

	s.mu.Lock()
	s.sendTo(c, serverMessage{Type: messageTypeConnected, ConnectionID: connID})
	s.mu.Unlock()

	s.readLoop(c)
}

func (s *Server) readLoop(c *connection) {
	defer s.disconnect(c.id)

	conn := c.peer.conn
	conn.SetReadLimit(s.maxMessageBytes)
	_ = conn.SetReadDeadline(s.now().Add(s.idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.now().Add(s.idleTimeout))
	})

	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{},
		int64(s.messagesPerSecond), int64(s.messagesPerSecond))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(s.now().Add(s.idleTimeout))

		// Limit after reading so bytes already buffered by the transport are
		// consumed before we react.
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			s.mu.Lock()
			s.sendTo(c, errorMessage("message rate limit exceeded"))
			s.mu.Unlock()
			return
		}
		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.ProtocolError)
			s.mu.Lock()
			s.sendTo(c, errorMessage("expected text frame"))
			s.mu.Unlock()
			continue
		}

		s.dispatch(c, data)
	}
}

// dispatch decodes one frame and runs its handler under the state lock.
func (s *Server) dispatch(c *connection, data []byte) {
	msg, err := parseClientMessage(data)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if errors.Is(err, errUnknownMessageType) {
			s.metrics.Inc(metrics.UnknownMessage)
			s.log.Warn("ignoring frame", "connection_id", c.id, "err", err)
			return
		}
		s.metrics.Inc(metrics.ProtocolError)
		s.sendTo(c, errorMessage("invalid message: "+err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The connection may have been removed by a concurrent close event.
	if _, ok := s.registry.get(c.id); !ok {
		return
	}

	switch msg.Type {
	case messageTypeSetUserID:
		s.handleSetUserID(c, msg)
	case messageTypeJoinRoom:
		s.handleJoinRoom(c, msg)
	case messageTypeLeaveRoom:
		s.handleLeaveRoom(c)
	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate:
		s.handleSignalRelay(c, msg)
	case messageTypeChat:
		s.handleChat(c, msg)
	}
}

// Handlers below run under s.mu.

func (s *Server) handleSetUserID(c *connection, msg clientMessage) {
	if err := s.registry.setUserID(c.id, msg.UserID); err != nil {
		s.metrics.Inc(metrics.PreconditionFailed)
		s.sendTo(c, errorMessage(err.Error()))
		return
	}
	s.log.Info("user id set", "connection_id", c.id, "user_id", msg.UserID)
	s.sendTo(c, serverMessage{Type: messageTypeUserIDSet, UserID: msg.UserID})
}

func (s *Server) handleJoinRoom(c *connection, msg clientMessage) {
	if c.userID == "" {
		s.metrics.Inc(metrics.PreconditionFailed)
		s.sendTo(c, errorMessage("user id not set, identify first"))
		return
	}

	prior, created, err := s.rooms.join(s.registry, msg.RoomID, c.id)
	if err != nil {
		s.metrics.Inc(metrics.PreconditionFailed)
		s.sendTo(c, errorMessage(err.Error()))
		return
	}
	if created {
		s.metrics.Inc(metrics.RoomCreated)
	}

	s.log.Info("room joined", "connection_id", c.id, "user_id", c.userID, "room_id", msg.RoomID)

	s.sendTo(c, serverMessage{Type: messageTypeRoomJoined, RoomID: msg.RoomID, UserID: c.userID})
	if len(prior) > 0 {
		s.sendTo(c, serverMessage{Type: messageTypeExistingUsers, Users: prior})
	}
	s.broadcastToRoom(msg.RoomID, serverMessage{
		Type:         messageTypeUserJoined,
		UserID:       c.userID,
		ConnectionID: c.id,
	}, c.id)
}

func (s *Server) handleLeaveRoom(c *connection) {
	roomID, deleted, ok := s.rooms.leave(s.registry, c.id)
	if !ok {
		// Not in a room: nothing to do, nothing to report.
		return
	}
	if deleted {
		s.metrics.Inc(metrics.RoomDeleted)
	}

	s.log.Info("room left", "connection_id", c.id, "user_id", c.userID, "room_id", roomID)

	s.sendTo(c, serverMessage{Type: messageTypeRoomLeft, RoomID: roomID})
	s.broadcastToRoom(roomID, serverMessage{Type: messageTypeUserLeft, UserID: c.userID}, c.id)
}

func (s *Server) handleSignalRelay(c *connection, msg clientMessage) {
	if c.roomID == "" {
		s.metrics.Inc(metrics.PreconditionFailed)
		s.sendTo(c, errorMessage("not in a room"))
		return
	}

	err := s.unicast(msg.TargetConnectionID, serverMessage{
		Type:             msg.Type,
		FromConnectionID: c.id,
		FromUserID:       c.userID,
		Data:             msg.Data,
	})
	if err != nil {
		s.metrics.Inc(metrics.RoutingFailed)
		s.sendTo(c, errorMessage(err.Error()))
		return
	}
	s.metrics.Inc(metrics.SignalRelayed)
}

func (s *Server) handleChat(c *connection, msg clientMessage) {
	if c.roomID == "" {
		s.metrics.Inc(metrics.PreconditionFailed)
		s.sendTo(c, errorMessage("not in a room"))
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		s.metrics.Inc(metrics.PreconditionFailed)
		s.sendTo(c, errorMessage("chat text must not be empty"))
		return
	}

	s.metrics.Inc(metrics.ChatBroadcast)
	// The sender is included so clients render their own messages through the
	// same path as everyone else's.
	s.broadcastToRoom(c.roomID, serverMessage{
		Type:      messageTypeChat,
		UserID:    c.userID,
		Text:      text,
		Timestamp: s.now().UnixMilli(),
	}, "")
}

// disconnect runs the cleanup cascade for a closed socket: leave the room,
// notify remaining members, delete the record, release the socket. Duplicate
// close events are no-ops.
func (s *Server) disconnect(connID string) {
	s.mu.Lock()
	c, ok := s.registry.get(connID)
	if !ok {
		s.mu.Unlock()
		return
	}

	roomID, deleted, left := s.rooms.leave(s.registry, connID)
	if left {
		s.broadcastToRoom(roomID, serverMessage{Type: messageTypeUserLeft, UserID: c.userID}, connID)
	}
	s.registry.remove(connID)
	s.mu.Unlock()

	if deleted {
		s.metrics.Inc(metrics.RoomDeleted)
	}
	s.metrics.Inc(metrics.ConnectionClosed)
	c.peer.close()
	s.log.Info("connection closed", "connection_id", connID, "user_id", c.userID)
}

// Stats returns the number of live rooms and connections.
func (s *Server) Stats() (rooms, connections int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.count(), s.registry.count()
}

// RoomMembers returns the current members of roomID, or ok=false when the
// room does not exist.
func (s *Server) RoomMembers(roomID string) (members []RoomUser, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members = s.rooms.snapshot(s.registry, roomID)
	return members, members != nil
}

// Close stops accepting connections and releases every live socket. Cleanup
// of registry and room state runs through each connection's own close event.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	peers := make([]*peer, 0, s.registry.count())
	for _, c := range s.registry.conns {
		peers = append(peers, c.peer)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}
