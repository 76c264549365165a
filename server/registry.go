package server

import (
	"sync"

	"go.uber.org/zap"

	"walkaround/wire"
)

// Outbox 协调器向连接写出事件的全部能力
type Outbox interface {
	Send(id wire.ConnID, event string, args ...any)
	Broadcast(event string, args ...any)
	BroadcastExcept(skip wire.ConnID, event string, args ...any)
	Reply(id wire.ConnID, ack uint64, args ...any)
	Alive(id wire.ConnID) bool
}

// Registry 连接注册表：唯一允许向线路写数据的地方
type Registry struct {
	log     *zap.SugaredLogger
	metrics *Metrics

	mu    sync.RWMutex
	conns map[wire.ConnID]*ClientConn
}

func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		log:     Log.Named("registry"),
		metrics: metrics,
		conns:   make(map[wire.ConnID]*ClientConn),
	}
}

// Add 连接建立时登记
func (r *Registry) Add(c *ClientConn) {
	r.mu.Lock()
	r.conns[c.ID] = c
	n := len(r.conns)
	r.mu.Unlock()
	r.metrics.SetConnections(n)
}

// Remove 连接断开时注销；重复移除为空操作
func (r *Registry) Remove(id wire.ConnID) {
	r.mu.Lock()
	delete(r.conns, id)
	n := len(r.conns)
	r.mu.Unlock()
	r.metrics.SetConnections(n)
}

func (r *Registry) Alive(id wire.ConnID) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	return ok && !c.Closed()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) lookup(id wire.ConnID) *ClientConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// snapshot 在锁外发送，避免持锁写线路
func (r *Registry) snapshot(skip wire.ConnID) []*ClientConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ClientConn, 0, len(r.conns))
	for id, c := range r.conns {
		if id != skip {
			out = append(out, c)
		}
	}
	return out
}

// Send 发送给单个连接；连接不存在或已关闭则丢弃
func (r *Registry) Send(id wire.ConnID, event string, args ...any) {
	b, err := wire.Encode(event, args...)
	if err != nil {
		r.log.Errorw("encode event failed", "event", event, "error", err)
		return
	}
	r.deliver(r.lookup(id), id, event, b)
}

// Broadcast 发送给全部存活连接
func (r *Registry) Broadcast(event string, args ...any) {
	r.BroadcastExcept("", event, args...)
}

// BroadcastExcept 发送给除 skip 以外的全部存活连接
func (r *Registry) BroadcastExcept(skip wire.ConnID, event string, args ...any) {
	b, err := wire.Encode(event, args...)
	if err != nil {
		r.log.Errorw("encode event failed", "event", event, "error", err)
		return
	}
	for _, c := range r.snapshot(skip) {
		r.deliver(c, c.ID, event, b)
	}
}

// Reply 对客户端带 id 的请求回 ack
func (r *Registry) Reply(id wire.ConnID, ack uint64, args ...any) {
	b, err := wire.EncodeAck(ack, args...)
	if err != nil {
		r.log.Errorw("encode ack failed", "ack", ack, "error", err)
		return
	}
	r.deliver(r.lookup(id), id, "ack", b)
}

func (r *Registry) deliver(c *ClientConn, id wire.ConnID, event string, b []byte) {
	if c == nil {
		r.dropped(id, event)
		return
	}
	if err := c.Enqueue(b); err != nil {
		r.dropped(id, event)
	}
}

func (r *Registry) dropped(id wire.ConnID, event string) {
	r.metrics.IncSendDropped()
	r.log.Debugw("send to dead connection dropped", "conn", id, "event", event)
}
