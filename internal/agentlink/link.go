// Package agentlink implements the Agent Link (C8): the persistent
// bidirectional connection between one agent process and the hub.
//
// Grounded on the teacher's internal/gateway/websocket.Client (ReadPump/
// WritePump over gorilla/websocket, ping/pong keepalive, buffered send
// channel) adapted from browser-facing to agent-facing, and framed with
// internal/protocol.Message instead of pkg/websocket.Message.
package agentlink

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 256
)

// Link is one side of an agent<->hub websocket connection. Both the hub's
// per-agent handle and the agent's own hub-facing client embed a Link.
type Link struct {
	conn   *websocket.Conn
	send   chan *protocol.Message
	inbox  chan *protocol.Message
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewLink wraps an established websocket connection.
func NewLink(conn *websocket.Conn, logger *logging.Logger) *Link {
	return &Link{
		conn:   conn,
		send:   make(chan *protocol.Message, sendBufferSize),
		inbox:  make(chan *protocol.Message, sendBufferSize),
		logger: logger,
	}
}

// Inbox returns the channel of frames received from the peer, in arrival
// order (§5 FIFO per taskId end-to-end).
func (l *Link) Inbox() <-chan *protocol.Message { return l.inbox }

// Send enqueues a frame for delivery. It never blocks the caller on slow
// peers beyond the buffer: when the buffer is full it returns
// errSendBufferFull and the frame is not queued. No frames are coalesced,
// here or in the worker_event producers.
func (l *Link) Send(msg *protocol.Message) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return websocket.ErrCloseSent
	}
	select {
	case l.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close closes the underlying connection and stops both pumps.
func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	close(l.send)
	_ = l.conn.Close()
}

// Run starts the read/write pumps and blocks until the connection closes.
func (l *Link) Run() {
	done := make(chan struct{})
	go func() {
		l.writePump()
		close(done)
	}()
	l.readPump()
	<-done
}

func (l *Link) readPump() {
	defer func() {
		close(l.inbox)
		l.Close()
	}()

	l.conn.SetReadLimit(maxMessageSize)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			if l.logger != nil {
				l.logger.Warn("agentlink: dropping unparseable frame")
			}
			continue
		}
		l.inbox <- &msg
	}
}

func (l *Link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer l.conn.Close()

	for {
		select {
		case msg, ok := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = l.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type sendBufferFullError struct{}

func (sendBufferFullError) Error() string { return "agentlink: send buffer full" }

var errSendBufferFull = sendBufferFullError{}
