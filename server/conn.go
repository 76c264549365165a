package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"walkaround/wire"
)

// ErrConnClosed 目标连接已关闭（TransportDead）
var ErrConnClosed = errors.New("connection closed")

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ID wire.ConnID

	ws *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClientConn(id wire.ConnID, ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ID:   id,
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}
}

// Enqueue 将消息压入发送队列（非阻塞）。
// 队列满说明对端消费过慢，直接关闭连接，避免出现静默丢帧破坏单连接内的顺序。
func (c *ClientConn) Enqueue(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.closeLocked()
		return ErrConnClosed
	}
}

// Close 关闭发送队列；写协程随后关闭底层连接
func (c *ClientConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *ClientConn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.ws != nil {
		// 唤醒读协程，使其走断开流程
		_ = c.ws.SetReadDeadline(time.Now())
	}
}

func (c *ClientConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
