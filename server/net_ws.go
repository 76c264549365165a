package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"walkaround/wire"
)

// Transport WebSocket 接入：分配连接 id、登记连接、启动读写协程
type Transport struct {
	registry *Registry
	coord    *Coordinator
	metrics  *Metrics
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewTransport(registry *Registry, coord *Coordinator, metrics *Metrics) *Transport {
	return &Transport{
		registry: registry,
		coord:    coord,
		metrics:  metrics,
		log:      Log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 与 HTTP 的 CORS 策略一致：允许所有来源
				return true
			},
		},
	}
}

// ServeHTTP 升级为 WebSocket 并加入会话
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Debugw("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := wire.ConnID(uuid.NewString())
	client := NewClientConn(id, ws)
	// 先登记再通知协调器，保证第一条 queueUpdate 能写出
	t.registry.Add(client)
	t.coord.Connect(id)
	t.log.Debugw("websocket connected", "conn", id, "remote", r.RemoteAddr)

	go client.writePump()
	go t.readPump(client)
}

// readPump 读取客户端事件帧，按顺序投递给协调器
func (t *Transport) readPump(c *ClientConn) {
	defer func() {
		t.registry.Remove(c.ID)
		c.Close()
		t.coord.Disconnect(c.ID)
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Debugw("websocket read error", "conn", c.ID, "error", err)
			}
			return
		}
		f, err := wire.Decode(payload)
		if err != nil {
			t.metrics.IncDropped(dropMalformed)
			t.log.Debugw("undecodable frame", "conn", c.ID, "error", err)
			continue
		}
		t.coord.Deliver(c.ID, f)
	}
}
