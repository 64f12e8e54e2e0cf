// Package chat implements the in-room chat manager: text messages, quick
// chat, reactions, typing indicators, and shouts, with a capped history.
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	historyCap       = 100
	maxMessageLength = 500
	typingTTL        = 5 * time.Second
)

// Message is one chat entry. Type distinguishes text, quick, reaction,
// shout, and system messages.
type Message struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

const (
	MessageText     = "text"
	MessageQuick    = "quick"
	MessageReaction = "reaction"
	MessageShout    = "shout"
	MessageSystem   = "system"
)

// quickChatCatalog is the fixed set of canned phrases clients may send by id.
var quickChatCatalog = map[string]string{
	"gl":       "Good luck!",
	"gg":       "Good game!",
	"nice":     "Nice roll!",
	"ouch":     "Ouch!",
	"wow":      "Wow!",
	"thinking": "Hmm, let me think...",
	"hurry":    "Hurry up!",
	"rematch":  "Rematch?",
}

// Manager keeps chat history and typing state for one room.
type Manager struct {
	mu      sync.Mutex
	history []Message
	typing  map[string]time.Time

	now func() time.Time
}

// NewManager returns an empty chat manager.
func NewManager() *Manager {
	return &Manager{
		typing: make(map[string]time.Time),
		now:    time.Now,
	}
}

// HandleTextMessage validates and records a free-text message.
func (m *Manager) HandleTextMessage(userID, displayName, content string) (*Message, bool) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxMessageLength {
		return nil, false
	}
	return m.record(MessageText, userID, displayName, content), true
}

// HandleQuickChat resolves a quick-chat id to its phrase.
func (m *Manager) HandleQuickChat(userID, displayName, quickID string) (*Message, bool) {
	phrase, ok := quickChatCatalog[quickID]
	if !ok {
		return nil, false
	}
	return m.record(MessageQuick, userID, displayName, phrase), true
}

// HandleReaction records an emoji reaction. Reactions skip history.
func (m *Manager) HandleReaction(userID, displayName, emoji string) (*Message, bool) {
	if emoji == "" {
		return nil, false
	}
	msg := m.build(MessageReaction, userID, displayName, emoji)
	return &msg, true
}

// HandleShout records an emphasized message.
func (m *Manager) HandleShout(userID, displayName, content string) (*Message, bool) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxMessageLength {
		return nil, false
	}
	return m.record(MessageShout, userID, displayName, strings.ToUpper(content)), true
}

// CreateSystemMessage records a server-generated message.
func (m *Manager) CreateSystemMessage(content string) *Message {
	return m.record(MessageSystem, "system", "System", content)
}

// HandleTypingStart marks the user as typing.
func (m *Manager) HandleTypingStart(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing[userID] = m.now()
}

// HandleTypingStop clears the user's typing flag.
func (m *Manager) HandleTypingStop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.typing, userID)
}

// GetTypingUsers returns users whose typing flag is still fresh.
func (m *Manager) GetTypingUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-typingTTL)
	users := make([]string, 0, len(m.typing))
	for id, at := range m.typing {
		if at.Before(cutoff) {
			delete(m.typing, id)
			continue
		}
		users = append(users, id)
	}
	return users
}

// ClearTyping drops one user, or everyone when userID is empty.
func (m *Manager) ClearTyping(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID == "" {
		m.typing = make(map[string]time.Time)
		return
	}
	delete(m.typing, userID)
}

// GetHistory returns a copy of the message history, oldest first.
func (m *Manager) GetHistory() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.history))
	copy(out, m.history)
	return out
}

// RestoreHistory replaces the history. Used on wake from hibernation.
func (m *Manager) RestoreHistory(history []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(history) > historyCap {
		history = history[len(history)-historyCap:]
	}
	m.history = append([]Message(nil), history...)
}

func (m *Manager) record(msgType, userID, displayName, content string) *Message {
	msg := m.build(msgType, userID, displayName, content)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, msg)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	return &msg
}

func (m *Manager) build(msgType, userID, displayName, content string) Message {
	return Message{
		ID:          uuid.NewString(),
		Type:        msgType,
		UserID:      userID,
		DisplayName: displayName,
		Content:     content,
		Timestamp:   m.now().UnixMilli(),
	}
}
