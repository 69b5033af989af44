package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"levelquest/internal/config"
	"levelquest/internal/observability"
	contextutils "levelquest/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Messages a client may send to the hub
const (
	MessageJoinLevel   = "join-level"
	MessageLeaveLevel  = "leave-level"
	MessageJoinCourse  = "join-course"
	MessageLeaveCourse = "leave-course"
	MessagePing        = "ping"
	MessagePong        = "pong"
)

const clientSendBuffer = 64

// LevelRoom is the room of learners watching a level
func LevelRoom(levelID string) string { return "level:" + levelID }

// CourseRoom is the room of learners watching a course
func CourseRoom(courseID string) string { return "course:" + courseID }

type clientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Client is one websocket connection of a learner
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]struct{}
}

// Hub tracks websocket clients by learner and by room and pushes events to them.
// Every event reaches the learner's own connections; progress updates also
// reach the level or course room.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	byUser   map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *observability.Logger
}

// NewHub creates an empty hub. An empty allowedOrigins accepts any origin.
func NewHub(logger *observability.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS upgrades the request and attaches the connection to userID
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	if userID == "" {
		return contextutils.ErrUnauthorized
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "websocket upgrade failed: %v", err)
	}

	client := &Client{
		id:     uuid.New().String(),
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		rooms:  make(map[string]struct{}),
	}
	if !h.register(client) {
		_ = conn.Close()
		return contextutils.WrapError(contextutils.ErrServiceUnavailable, "websocket hub is closed")
	}

	h.logger.Debug(r.Context(), "Websocket client connected", map[string]interface{}{
		"client_id": client.id,
		"user_id":   userID,
		"remote":    conn.RemoteAddr().String(),
	})

	go client.writePump()
	go client.readPump()
	return nil
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	addMember(h.byUser, c.userID, c)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	removeMember(h.byUser, c.userID, c)
	for room := range c.rooms {
		removeMember(h.rooms, room, c)
	}
	close(c.send)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.rooms[room] = struct{}{}
	addMember(h.rooms, room, c)
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.rooms, room)
	removeMember(h.rooms, room, c)
}

func addMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	members, ok := index[key]
	if !ok {
		members = make(map[*Client]struct{})
		index[key] = members
	}
	members[c] = struct{}{}
}

func removeMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	members, ok := index[key]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(index, key)
	}
}

// Publish implements Publisher. Slow clients whose buffer is full miss the event.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	body, err := marshalEvent(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}

	targets := make(map[*Client]struct{})
	for c := range h.byUser[event.UserID] {
		targets[c] = struct{}{}
	}
	switch event.Type {
	case TypeLevelProgressUpdate:
		for c := range h.rooms[LevelRoom(event.LevelID)] {
			targets[c] = struct{}{}
		}
	case TypeCourseProgressUpdate:
		for c := range h.rooms[CourseRoom(event.CourseID)] {
			targets[c] = struct{}{}
		}
	}

	dropped := 0
	for c := range targets {
		select {
		case c.send <- body:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn(ctx, "Dropped websocket event for slow clients", map[string]interface{}{
			"event_type": event.Type,
			"dropped":    dropped,
		})
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*Client]struct{})
	h.byUser = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(config.WebsocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.WebsocketPongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug(context.Background(), "Websocket read failed", map[string]interface{}{
					"client_id": c.id,
					"error":     err.Error(),
				})
			}
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg clientMessage) {
	switch msg.Type {
	case MessageJoinLevel:
		if msg.ID != "" {
			c.hub.join(c, LevelRoom(msg.ID))
		}
	case MessageLeaveLevel:
		c.hub.leave(c, LevelRoom(msg.ID))
	case MessageJoinCourse:
		if msg.ID != "" {
			c.hub.join(c, CourseRoom(msg.ID))
		}
	case MessageLeaveCourse:
		c.hub.leave(c, CourseRoom(msg.ID))
	case MessagePing:
		body, _ := json.Marshal(clientMessage{Type: MessagePong})
		c.hub.mu.RLock()
		if _, ok := c.hub.clients[c]; ok {
			select {
			case c.send <- body:
			default:
			}
		}
		c.hub.mu.RUnlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(config.WebsocketPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(config.WebsocketWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(config.WebsocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
