// Package transport owns the WebSocket plumbing: per-connection read and
// write pumps, tagged connections, and the registry that answers O(1)
// multicast queries by tag.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Attachment is the per-connection payload that survives hibernation. It is
// mutable only by overwrite.
type Attachment struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarSeed  string `json:"avatarSeed"`
	ConnectedAt int64  `json:"connectedAt"`
	IsHost      bool   `json:"isHost"`
	Role        string `json:"role"`
	// CurrentRoomCode is maintained by the lobby so presence lists can show
	// where each user is.
	CurrentRoomCode string `json:"currentRoomCode,omitempty"`
}

// Socket is the subset of *websocket.Conn the pumps need. Tests substitute
// recording fakes.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Conn is one accepted WebSocket with its tags and attachment.
type Conn struct {
	ws   Socket
	send chan []byte

	mu         sync.RWMutex
	tags       map[string]struct{}
	attachment Attachment
	closed     bool
}

// NewConn wraps an accepted socket. Tags are assigned at accept time.
func NewConn(ws Socket, tags []string, attachment Attachment) *Conn {
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	return &Conn{
		ws:         ws,
		send:       make(chan []byte, sendBufferSize),
		tags:       tagSet,
		attachment: attachment,
	}
}

// HasTag reports whether the connection carries the tag.
func (c *Conn) HasTag(tag string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tags[tag]
	return ok
}

// Tags returns a copy of the tag set.
func (c *Conn) Tags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tags))
	for t := range c.tags {
		out = append(out, t)
	}
	return out
}

// Attachment returns the current attachment.
func (c *Conn) Attachment() Attachment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attachment
}

// SetAttachment overwrites the attachment.
func (c *Conn) SetAttachment(a Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = a
}

// SendEvent marshals and queues an event. Sends are best-effort: a full
// buffer drops the message and logs rather than blocking the actor.
func (c *Conn) SendEvent(ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal event",
			zap.String("type", ev.Type), zap.Error(err))
		return
	}
	c.sendRaw(data)
}

func (c *Conn) sendRaw(data []byte) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Send buffer full, dropping message",
			zap.String("user_id", c.Attachment().UserID))
	}
}

// CloseWithCode sends a close frame and tears the socket down.
func (c *Conn) CloseWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		logging.Warn(context.Background(), "Failed to write close frame", zap.Error(err))
	}
	c.shutdown()
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	c.ws.Close()
}

// Run starts the pumps and blocks until the read side ends. onMessage is
// invoked for each text frame; onClose exactly once afterwards.
func (c *Conn) Run(onMessage func(data []byte), onClose func()) {
	metrics.IncConnection()
	defer metrics.DecConnection()

	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		c.writePump()
	}()

	c.readPump(onMessage)
	c.shutdown()
	writerDone.Wait()
	onClose()
}

func (c *Conn) readPump(onMessage func(data []byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(context.Background(), "WebSocket read error", zap.Error(err))
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			c.CloseWithCode(protocol.CloseUnsupported, "binary frames not supported")
			return
		}
		onMessage(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
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
