package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/bus"
	"github.com/xelth-com/chatrelay/internal/models"
	"github.com/xelth-com/chatrelay/internal/services/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound frames queued per connection before frames are dropped.
	sendBuffer = 256
)

// Subscription streams a client can open
const (
	ChannelMessageAdded      = "messageAdded"
	ChannelMessageSentToUser = "messageSentToUser"
)

// Frame types
const (
	FrameSubscribe   = "SUBSCRIBE"
	FrameUnsubscribe = "UNSUBSCRIBE"
	FramePost        = "POST"
	FrameAck         = "ACK"
	FrameData        = "DATA"
	FrameError       = "ERROR"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins; the relay has no browser session to protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Inbound is a frame sent by the peer.
type Inbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	User      string `json:"user,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Outbound is a frame sent to the peer.
type Outbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var errUnknownChannel = errors.New("unknown channel")

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// ID assigned on connect
	ID string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*bus.Subscription[models.Message]
	closed bool
	once   sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ID:     "ws_" + uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*bus.Subscription[models.Message]),
	}
}

// readPump pumps frames from the websocket connection to the relay.
func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.String("client", c.ID), zap.Error(err))
			}
			break
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.enqueue(Outbound{Type: FrameError, Error: "malformed frame"})
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in Inbound) {
	switch in.Type {
	case FrameSubscribe:
		id, err := c.subscribe(in)
		if err != nil {
			c.enqueue(Outbound{Type: FrameError, ID: in.ID, Error: err.Error()})
			return
		}
		c.enqueue(Outbound{Type: FrameAck, ID: id, Channel: in.Channel})

	case FrameUnsubscribe:
		c.mu.Lock()
		sub, ok := c.subs[in.ID]
		delete(c.subs, in.ID)
		c.mu.Unlock()
		if !ok {
			c.enqueue(Outbound{Type: FrameError, ID: in.ID, Error: "unknown subscription"})
			return
		}
		sub.Cancel()
		c.enqueue(Outbound{Type: FrameAck, ID: in.ID})

	case FramePost:
		msg, err := c.hub.relay.Post(c.ctx, relay.PostInput{
			RoomID:    in.RoomID,
			Sender:    in.Sender,
			Recipient: in.Recipient,
			Content:   in.Content,
		})
		if err != nil {
			c.enqueue(Outbound{Type: FrameError, ID: in.ID, Error: err.Error()})
			return
		}
		c.enqueue(Outbound{Type: FrameAck, ID: in.ID, Message: &msg})

	default:
		c.enqueue(Outbound{Type: FrameError, ID: in.ID, Error: "unknown frame type " + in.Type})
	}
}

func (c *Client) subscribe(in Inbound) (string, error) {
	var sub *bus.Subscription[models.Message]
	switch in.Channel {
	case ChannelMessageAdded:
		if in.RoomID == "" {
			return "", errors.New("roomId is required")
		}
		sub = c.hub.relay.SubscribeRoom(c.ctx, in.RoomID)
	case ChannelMessageSentToUser:
		if in.User == "" {
			return "", errors.New("user is required")
		}
		sub = c.hub.relay.SubscribeUser(c.ctx, in.User)
	default:
		return "", errUnknownChannel
	}

	id := in.ID
	if id == "" {
		id = sub.ID()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Cancel()
		return "", errors.New("connection closed")
	}
	if _, dup := c.subs[id]; dup {
		c.mu.Unlock()
		sub.Cancel()
		return "", errors.New("subscription id already in use")
	}
	c.subs[id] = sub
	c.mu.Unlock()

	go c.forward(id, in.Channel, sub)
	return id, nil
}

// forward copies one subscription's feed onto the connection until the
// subscription is cancelled.
func (c *Client) forward(id, channel string, sub *bus.Subscription[models.Message]) {
	for m := range sub.C() {
		msg := m
		c.enqueue(Outbound{Type: FrameData, ID: id, Channel: channel, Message: &msg})
	}
}

// enqueue queues a frame without blocking; frames for a closed or saturated
// connection are dropped.
func (c *Client) enqueue(out Outbound) bool {
	data, err := json.Marshal(out)
	if err != nil {
		c.hub.log.Error("encode frame", zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.hub.log.Warn("client send buffer full, dropping frame", zap.String("client", c.ID), zap.String("type", out.Type))
		return false
	}
}

// close cancels every subscription and ends the write pump.
func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()

		c.mu.Lock()
		c.closed = true
		subs := c.subs
		c.subs = nil
		close(c.send)
		c.mu.Unlock()

		for _, sub := range subs {
			sub.Cancel()
		}
	})
}

// writePump pumps messages from the client queue to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(hub, conn)
	if !hub.attach(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
