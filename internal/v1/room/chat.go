package room

import (
	"encoding/json"

	"github.com/dicehall/dicehall/internal/v1/chat"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// loadChat restores persisted chat history on first use after a wake.
// Callers hold r.mu.
func (r *Room) loadChat() *chat.Manager {
	if r.chatLoaded {
		return r.chat
	}
	var history []chat.Message
	found, err := r.kv.GetJSON(r.ctx(), keyChatHistory, &history)
	if err != nil {
		logging.Error(r.ctx(), "Failed to load chat history", zap.Error(err))
	}
	if found {
		r.chat.RestoreHistory(history)
	}
	r.chatLoaded = true
	return r.chat
}

func (r *Room) saveChat() {
	if err := r.kv.PutJSON(r.ctx(), keyChatHistory, r.chat.GetHistory()); err != nil {
		logging.Error(r.ctx(), "Failed to persist chat history", zap.Error(err))
	}
}

// handleChat routes the six chat commands through the chat manager and
// broadcasts the result room-wide.
func (r *Room) handleChat(c *transport.Conn, cmd protocol.Command) string {
	var payload struct {
		Content string `json:"content"`
		QuickID string `json:"quickId"`
		Emoji   string `json:"emoji"`
	}
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "malformed chat payload")
			return "error"
		}
	}

	att := c.Attachment()
	mgr := r.loadChat()

	switch cmd.Type {
	case protocol.CmdChatMessage:
		msg, ok := mgr.HandleTextMessage(att.UserID, att.DisplayName, payload.Content)
		if !ok {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "empty or oversized message")
			return "error"
		}
		mgr.ClearTyping(att.UserID)
		r.saveChat()
		r.broadcastRoom(protocol.NewEvent(protocol.EventChatMessage, msg).WithCorrelation(cmd.CorrelationID))
		r.broadcastTyping()

	case protocol.CmdQuickChat:
		msg, ok := mgr.HandleQuickChat(att.UserID, att.DisplayName, payload.QuickID)
		if !ok {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "unknown quick chat id: "+payload.QuickID)
			return "error"
		}
		r.saveChat()
		r.broadcastRoom(protocol.NewEvent(protocol.EventChatMessage, msg).WithCorrelation(cmd.CorrelationID))

	case protocol.CmdReaction:
		msg, ok := mgr.HandleReaction(att.UserID, att.DisplayName, payload.Emoji)
		if !ok {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "emoji is required")
			return "error"
		}
		// Reactions are transient; no history write.
		r.broadcastRoom(protocol.NewEvent(protocol.EventReaction, msg).WithCorrelation(cmd.CorrelationID))

	case protocol.CmdShout:
		msg, ok := mgr.HandleShout(att.UserID, att.DisplayName, payload.Content)
		if !ok {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "empty or oversized shout")
			return "error"
		}
		r.saveChat()
		r.broadcastRoom(protocol.NewEvent(protocol.EventShout, msg).WithCorrelation(cmd.CorrelationID))

	case protocol.CmdTypingStart:
		mgr.HandleTypingStart(att.UserID)
		r.broadcastTyping()

	case protocol.CmdTypingStop:
		mgr.HandleTypingStop(att.UserID)
		r.broadcastTyping()
	}
	return "ok"
}

func (r *Room) broadcastTyping() {
	r.broadcastRoom(protocol.NewEvent(protocol.EventTypingUpdate, map[string]any{
		"typing": r.chat.GetTypingUsers(),
	}))
}

// systemChat records and broadcasts a server-generated chat line.
func (r *Room) systemChat(content string) {
	msg := r.loadChat().CreateSystemMessage(content)
	r.saveChat()
	r.broadcastRoom(protocol.NewEvent(protocol.EventChatMessage, msg))
}
