// Package transport carries viewer sessions over websockets and peer
// transforms over UDP.
package transport

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/rigstream/internal/queue"
	"github.com/OCAP2/rigstream/internal/stream"
	ws "github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	inboundFrames = 256

	// maxFrameSize bounds one inbound camera or action frame
	maxFrameSize = 64 * 1024
)

// QueuePolicy decides what happens to a message when the outbound slot is
// occupied.
type QueuePolicy int

const (
	// PolicyDrop discards the new message and reports SendWouldBlock.
	PolicyDrop QueuePolicy = iota
	// PolicyCoalesce replaces the queued message with the new one.
	PolicyCoalesce
)

// ParseQueuePolicy parses "drop" or "coalesce".
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch strings.ToLower(s) {
	case "", "drop":
		return PolicyDrop, nil
	case "coalesce":
		return PolicyCoalesce, nil
	}
	return PolicyDrop, fmt.Errorf("unknown queue policy %q", s)
}

func (p QueuePolicy) String() string {
	if p == PolicyCoalesce {
		return "coalesce"
	}
	return "drop"
}

// Conn is a viewer websocket. A single write goroutine drains a one-message
// slot; a read goroutine queues inbound frames for the simulation goroutine.
type Conn struct {
	mu       sync.Mutex
	conn     *ws.Conn
	pending  []byte
	writing  bool
	writeErr error
	closed   bool
	peerGone bool

	wake   chan struct{}
	done   chan struct{}
	inbox  *queue.Queue[[]byte]
	policy QueuePolicy
	addr   string

	logger *slog.Logger
}

var _ stream.Conn = (*Conn)(nil)

func newConn(c *ws.Conn, policy QueuePolicy, logger *slog.Logger) *Conn {
	c.SetReadLimit(maxFrameSize)
	conn := &Conn{
		conn:   c,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		inbox:  queue.NewBounded[[]byte](inboundFrames),
		policy: policy,
		addr:   c.RemoteAddr().String(),
		logger: logger,
	}
	go conn.writeLoop()
	go conn.readLoop()
	return conn
}

// Send hands msg to the write goroutine without blocking.
func (c *Conn) Send(msg []byte) (stream.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed || c.peerGone:
		return stream.SendClosed, nil
	case c.writeErr != nil:
		return stream.SendError, c.writeErr
	}

	if busy := c.pending != nil || c.writing; busy && c.policy == PolicyDrop {
		return stream.SendWouldBlock, nil
	}
	c.pending = msg
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return stream.SendOk, nil
}

// Recv returns the frames read since the last call.
func (c *Conn) Recv() ([][]byte, bool) {
	frames := c.inbox.Drain()
	c.mu.Lock()
	gone := c.peerGone || c.closed
	c.mu.Unlock()
	return frames, gone
}

func (c *Conn) RemoteAddr() string { return c.addr }

// writeLoop writes the pending message whenever the slot fills.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		c.mu.Lock()
		data := c.pending
		c.pending = nil
		c.writing = data != nil
		conn := c.conn
		c.mu.Unlock()
		if data == nil {
			continue
		}

		err := conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err == nil {
			err = conn.WriteMessage(ws.BinaryMessage, data)
		}

		c.mu.Lock()
		c.writing = false
		if err != nil {
			c.writeErr = err
		}
		again := c.pending != nil
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("WebSocket write error", "addr", c.addr, "error", err)
			return
		}
		if again {
			select {
			case c.wake <- struct{}{}:
			default:
			}
		}
	}
}

// readLoop queues every inbound frame until the peer goes away.
func (c *Conn) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					c.logger.Debug("WebSocket read error", "addr", c.addr, "error", err)
				}
			}
			c.mu.Lock()
			c.peerGone = true
			c.mu.Unlock()
			return
		}
		c.inbox.Push(message)
	}
}

// Close sends a best-effort close frame and stops both goroutines.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
