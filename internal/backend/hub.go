package backend

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/auth"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// Hub tracks connected websocket clients and fans push events out to
// session groups.
type Hub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Str("connection_id", c.connID).Int("clients", count).Msg("Client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Str("connection_id", c.connID).Int("clients", count).Msg("Client disconnected")
}

// BroadcastToSession delivers an event frame to every member of the
// session's push group, optionally excluding the originator.
func (h *Hub) BroadcastToSession(sessionID string, frame *message.Frame, exclude *Client) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c == exclude {
			continue
		}
		if c.inGroup(sessionID) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.SafeSend(frame)
	}
}

// Client is one websocket connection handled by the hub.
type Client struct {
	hub     *Hub
	service *Service
	conn    *websocket.Conn
	send    chan *message.Frame
	connID  string
	// claims is non-nil for authenticated connections; admin capability
	// checks go through it.
	claims  *auth.Claims
	closing atomic.Bool

	groupMu sync.Mutex
	groups  map[string]struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, service *Service, conn *websocket.Conn, connID string, claims *auth.Claims) *Client {
	return &Client{
		hub:     hub,
		service: service,
		conn:    conn,
		send:    make(chan *message.Frame, constants.SendBufferSize),
		connID:  connID,
		claims:  claims,
		groups:  make(map[string]struct{}),
	}
}

// Run announces the connection id, registers with the hub and blocks in
// the read pump until the connection drops.
func (c *Client) Run() {
	c.hub.register(c)
	defer func() {
		c.hub.unregister(c)
		c.closing.Store(true)
		close(c.send)
	}()

	util.SafeGo(c.hub.logger, "writePump", c.writePump)

	c.SafeSend(&message.Frame{
		Kind:  message.FrameEvent,
		Event: constants.EventConnected,
		Data:  mustMarshal(&message.ConnectedEvent{ConnectionID: c.connID}),
	})

	c.readPump()
}

// SafeSend queues a frame without blocking. Frames to a closing or
// backed-up client are dropped; the keepalive will reap a dead peer.
func (c *Client) SafeSend(frame *message.Frame) {
	if c.closing.Load() {
		return
	}

	defer func() {
		// close(c.send) may race a concurrent broadcast; dropping the
		// frame is the correct outcome for a connection on its way out.
		if recover() != nil {
			c.hub.logger.Debug().Str("connection_id", c.connID).Msg("Dropped frame for closing client")
		}
	}()

	select {
	case c.send <- frame:
	default:
		c.hub.logger.Warn().Str("connection_id", c.connID).Msg("Send buffer full, dropping frame")
	}
}

func (c *Client) inGroup(sessionID string) bool {
	c.groupMu.Lock()
	defer c.groupMu.Unlock()
	_, ok := c.groups[sessionID]
	return ok
}

func (c *Client) join(sessionID string) {
	c.groupMu.Lock()
	defer c.groupMu.Unlock()
	c.groups[sessionID] = struct{}{}
}

func (c *Client) leave(sessionID string) {
	c.groupMu.Lock()
	defer c.groupMu.Unlock()
	delete(c.groups, sessionID)
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(constants.DefaultMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(constants.WriteWait))
	})

	for {
		var frame message.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("connection_id", c.connID).Msg("Websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(constants.PongWait))

		if frame.Kind != message.FrameInvoke {
			continue
		}
		c.service.HandleInvoke(c, &frame)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
		if err := c.conn.WriteJSON(frame); err != nil {
			return
		}
	}

	// Channel closed: the read pump is done, say goodbye.
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func mustMarshal(v interface{}) []byte {
	data, err := util.MarshalJSON(v)
	if err != nil {
		// Only reachable with an unmarshalable local type, a programming error.
		panic(err)
	}
	return data
}
