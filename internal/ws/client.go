package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// ActivityRecorder receives heartbeats observed on a connection
type ActivityRecorder interface {
	Touch(userID string)
}

// Client represents a single WebSocket connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	subs     []*Subscription
	memberID string
	activity ActivityRecorder
	onClose  func()

	closeOnce sync.Once
}

// NewClient subscribes a connection to topics; onClose runs once when it ends
func NewClient(hub *Hub, conn *websocket.Conn, memberID string, activity ActivityRecorder, onClose func(), topics ...string) (*Client, error) {
	c := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		memberID: memberID,
		activity: activity,
		onClose:  onClose,
	}

	for _, topic := range topics {
		sub, err := hub.Subscribe(topic)
		if err != nil {
			for _, s := range c.subs {
				s.Unsubscribe()
			}
			return nil, err
		}
		c.subs = append(c.subs, sub)
	}
	for _, sub := range c.subs {
		go c.forward(sub)
	}
	return c, nil
}

// forward copies one subscription into the send buffer
func (c *Client) forward(sub *Subscription) {
	for evt := range sub.Events() {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
			return
		}
	}
	// Dropped by the hub: end the connection so the client resubscribes
	if sub.Err() != nil {
		c.close()
	}
}

// ReadPump reads heartbeats from the WebSocket (handles pong/close)
func (c *Client) ReadPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		c.touch()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &frame) == nil && frame.Type == domain.EventHeartbeat {
			c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
			c.touch()
		}
		// Anything else is ignored (server-push only)
	}
}

// WritePump sends events and pings to the WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message) //nolint:errcheck
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))    //nolint:errcheck
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return
		}
	}
}

func (c *Client) touch() {
	if c.activity != nil {
		c.activity.Touch(c.memberID)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		for _, sub := range c.subs {
			sub.Unsubscribe()
		}
		c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}
