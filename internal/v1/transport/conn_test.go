package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// mockWS simulates the gorilla connection for pump tests.
type mockWS struct {
	mu       sync.Mutex
	incoming chan frame
	written  []frame
	closed   bool
}

type frame struct {
	msgType int
	data    []byte
}

func newMockWS() *mockWS {
	return &mockWS{incoming: make(chan frame, 16)}
}

func (m *mockWS) push(msgType int, data []byte) {
	m.incoming <- frame{msgType: msgType, data: data}
}

func (m *mockWS) ReadMessage() (int, []byte, error) {
	f, ok := <-m.incoming
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return f.msgType, f.data, nil
}

func (m *mockWS) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("use of closed connection")
	}
	m.written = append(m.written, frame{msgType: messageType, data: data})
	return nil
}

func (m *mockWS) WriteControl(messageType int, data []byte, _ time.Time) error {
	return m.WriteMessage(messageType, data)
}

func (m *mockWS) writtenFrames() []frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]frame, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockWS) SetReadLimit(int64)                  {}
func (m *mockWS) SetReadDeadline(time.Time) error     { return nil }
func (m *mockWS) SetWriteDeadline(time.Time) error    { return nil }
func (m *mockWS) SetPongHandler(func(string) error)   {}

func (m *mockWS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.incoming)
	}
	return nil
}

func TestRunDeliversTextFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	ws := newMockWS()
	c := NewConn(ws, RoomTags("u1", "ABCDEF", RolePlayer), Attachment{UserID: "u1"})

	var got [][]byte
	var closedOnce int
	done := make(chan struct{})

	go func() {
		c.Run(func(data []byte) {
			got = append(got, data)
		}, func() {
			closedOnce++
			close(done)
		})
	}()

	ws.push(websocket.TextMessage, []byte(`{"type":"PING"}`))
	ws.push(websocket.TextMessage, []byte(`{"type":"PING"}`))
	time.Sleep(50 * time.Millisecond)
	ws.Close()
	<-done

	assert.Len(t, got, 2)
	assert.Equal(t, 1, closedOnce, "onClose fires exactly once")
}

func TestRunClosesOnBinaryFrame(t *testing.T) {
	defer goleak.VerifyNone(t)

	ws := newMockWS()
	c := NewConn(ws, RoomTags("u1", "ABCDEF", RolePlayer), Attachment{UserID: "u1"})

	done := make(chan struct{})
	go func() {
		c.Run(func([]byte) {}, func() { close(done) })
	}()

	ws.push(websocket.BinaryMessage, []byte{0x01})
	<-done

	var sawClose bool
	for _, f := range ws.writtenFrames() {
		if f.msgType == websocket.CloseMessage && len(f.data) >= 2 {
			code := int(f.data[0])<<8 | int(f.data[1])
			if code == protocol.CloseUnsupported {
				sawClose = true
			}
		}
	}
	assert.True(t, sawClose, "binary frame closes with 1003")
}

func TestWritePumpFlushesQueuedEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	ws := newMockWS()
	c := NewConn(ws, RoomTags("u1", "ABCDEF", RolePlayer), Attachment{UserID: "u1"})

	done := make(chan struct{})
	go func() {
		c.Run(func([]byte) {}, func() { close(done) })
	}()

	c.SendEvent(protocol.NewEvent("HELLO", map[string]int{"n": 1}))

	require.Eventually(t, func() bool {
		for _, f := range ws.writtenFrames() {
			if f.msgType == websocket.TextMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	var ev protocol.Event
	for _, f := range ws.writtenFrames() {
		if f.msgType == websocket.TextMessage {
			require.NoError(t, json.Unmarshal(f.data, &ev))
		}
	}
	assert.Equal(t, "HELLO", ev.Type)

	ws.Close()
	<-done
}
