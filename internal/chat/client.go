package chat

import (
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket subscriber of a project room.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	projectID int64
	expertID  int64
	send      chan Envelope
}

func newClient(hub *Hub, conn *websocket.Conn, projectID, expertID int64) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		projectID: projectID,
		expertID:  expertID,
		send:      make(chan Envelope, sendBuffer),
	}
}

// personalize sets Own on a copy of the message for this subscriber.
func (c *Client) personalize(env Envelope) Envelope {
	if env.Message != nil {
		m := *env.Message
		m.Own = m.ExpertID == c.expertID
		env.Message = &m
	}
	return env
}

// readPump only watches for disconnects and pongs; messages are posted over HTTP.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(c.personalize(env)); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
