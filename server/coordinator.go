package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"walkaround/config"
	"walkaround/wire"
)

// ErrStopped 协调器循环已退出
var ErrStopped = errors.New("coordinator stopped")

const inboxSize = 1024

// SpawnPoints 协调器对出生点存储的依赖
type SpawnPoints interface {
	Get() wire.Vec3
	Update(p wire.Vec3)
}

type sessionState int

const (
	stateQueued sessionState = iota
	stateAdmitted
)

func (s sessionState) String() string {
	if s == stateAdmitted {
		return "admitted"
	}
	return "queued"
}

// Status 管理接口使用的占用快照
type Status struct {
	Players     int `json:"players"`
	Admitted    int `json:"admitted"`
	Queued      int `json:"queued"`
	Connections int `json:"connections"`
	MaxPlayers  int `json:"max_players"`
}

// Options 协调器参数；零值字段使用默认
type Options struct {
	MaxPlayers int
	Placement  Placement
	Rand       *rand.Rand
}

type itemKind int

const (
	itemConnect itemKind = iota
	itemMessage
	itemDisconnect
	itemCall
)

type inboxItem struct {
	kind  itemKind
	id    wire.ConnID
	frame wire.Frame
	fn    func()
}

// Coordinator 会话协调器：玩家表、会话状态与准入队列只在 Run 协程内读写
type Coordinator struct {
	out     Outbox
	spawn   SpawnPoints
	metrics *Metrics
	log     *zap.SugaredLogger

	maxPlayers int
	place      Placement
	rng        *rand.Rand

	sessions map[wire.ConnID]sessionState
	players  map[wire.ConnID]*wire.Player
	queue    *AdmissionQueue
	admitted int // 已发送 loginAllowed 的会话数，计入上限

	inbox chan inboxItem
	done  chan struct{}
}

func NewCoordinator(out Outbox, spawn SpawnPoints, metrics *Metrics, opts Options) *Coordinator {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = config.DefaultMaxPlayers
	}
	if opts.Placement == nil {
		opts.Placement = JitterPlacement
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Coordinator{
		out:        out,
		spawn:      spawn,
		metrics:    metrics,
		log:        Log.Named("coordinator"),
		maxPlayers: opts.MaxPlayers,
		place:      opts.Placement,
		rng:        opts.Rand,
		sessions:   make(map[wire.ConnID]sessionState),
		players:    make(map[wire.ConnID]*wire.Player),
		queue:      NewAdmissionQueue(),
		inbox:      make(chan inboxItem, inboxSize),
		done:       make(chan struct{}),
	}
}

// Run 单协程事件循环，直到 ctx 结束
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.inbox:
			c.dispatch(it)
		}
	}
}

func (c *Coordinator) post(it inboxItem) bool {
	select {
	case c.inbox <- it:
		return true
	case <-c.done:
		return false
	}
}

// Connect 传输层在连接登记后调用
func (c *Coordinator) Connect(id wire.ConnID) {
	c.post(inboxItem{kind: itemConnect, id: id})
}

// Deliver 投递一条已解码的客户端帧；同一连接按调用顺序处理
func (c *Coordinator) Deliver(id wire.ConnID, f wire.Frame) {
	c.post(inboxItem{kind: itemMessage, id: id, frame: f})
}

// Disconnect 传输层在连接注销后调用
func (c *Coordinator) Disconnect(id wire.ConnID) {
	c.post(inboxItem{kind: itemDisconnect, id: id})
}

// Do 在协调器协程内同步执行 fn
func (c *Coordinator) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	it := inboxItem{kind: itemCall, fn: func() {
		defer close(finished)
		fn()
	}}
	select {
	case c.inbox <- it:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status 读取当前占用情况
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.Do(ctx, func() { st = c.status() })
	return st, err
}

// EditSpawnPoint 管理接口修改出生点：与 updateSpawnPoint 事件相同的效果
func (c *Coordinator) EditSpawnPoint(ctx context.Context, p wire.Vec3) error {
	return c.Do(ctx, func() { c.applySpawnPoint(p) })
}

// dispatch 每个处理函数都是独立的隔离边界，panic 只记录不扩散
func (c *Coordinator) dispatch(it inboxItem) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncPanic()
			c.log.Errorw("handler panic recovered", "conn", it.id, "event", it.frame.Event, "panic", fmt.Sprint(r))
		}
	}()
	switch it.kind {
	case itemConnect:
		c.handleConnect(it.id)
	case itemMessage:
		c.handleFrame(it.id, it.frame)
	case itemDisconnect:
		c.handleDisconnect(it.id)
	case itemCall:
		it.fn()
	}
	c.metrics.SetOccupancy(len(c.players), c.queue.Len())
}

func (c *Coordinator) handleConnect(id wire.ConnID) {
	if _, ok := c.sessions[id]; ok {
		return
	}
	c.sessions[id] = stateQueued
	c.queue.Enqueue(id)
	c.log.Infow("client connected", "conn", id, "position", c.queue.Position(id))

	c.out.Send(id, wire.EventQueueUpdate, c.queue.Position(id))
	c.tryAdmit(false)
	c.out.Send(id, wire.EventSpawnPointUpdated, c.spawn.Get())
}

// tryAdmit 按空位从队首放行；队列位置发生变化时向仍在排队的会话推送新位置
func (c *Coordinator) tryAdmit(reshuffled bool) {
	popped := 0
	for {
		batch := c.queue.DrainToCapacity(c.admitted, c.maxPlayers)
		if len(batch) == 0 {
			break
		}
		popped += len(batch)
		for _, id := range batch {
			if st, ok := c.sessions[id]; !ok || st != stateQueued || !c.out.Alive(id) {
				// 已死连接不占名额，其断开事件到达时无需再处理
				delete(c.sessions, id)
				continue
			}
			c.sessions[id] = stateAdmitted
			c.admitted++
			c.log.Infow("client admitted", "conn", id, "admitted", c.admitted, "max", c.maxPlayers)
			c.out.Send(id, wire.EventLoginAllowed)
		}
	}
	if popped == 0 && !reshuffled {
		return
	}
	for _, qp := range c.queue.Positions() {
		c.out.Send(qp.ID, wire.EventQueueUpdate, qp.Position)
	}
}

func (c *Coordinator) handleFrame(id wire.ConnID, f wire.Frame) {
	if f.IsAck() {
		// 服务端从不向客户端请求确认
		return
	}
	ev, err := wire.ParseIncoming(f)
	if err != nil {
		reason := dropMalformed
		if errors.Is(err, wire.ErrUnknownEvent) {
			reason = dropUnknownEvent
		}
		c.metrics.IncDropped(reason)
		c.log.Debugw("event ignored", "conn", id, "event", f.Event, "error", err)
		return
	}
	if _, ok := c.sessions[id]; !ok {
		c.metrics.IncDropped(dropUnknownID)
		c.log.Debugw("event from unknown session", "conn", id, "event", f.Event)
		return
	}
	c.metrics.IncEvent(ev.EventName())

	switch e := ev.(type) {
	case wire.Spawn:
		c.handleSpawn(id)
	case wire.Move:
		c.handleMove(id, e)
	case wire.UpdateSpawnPoint:
		c.handleUpdateSpawnPoint(id, e)
	case wire.RequestSpawnPoint:
		if f.WantsAck() {
			c.out.Reply(id, *f.ID, c.spawn.Get())
		} else {
			c.out.Send(id, wire.EventSpawnPointUpdated, c.spawn.Get())
		}
	case wire.PingSync:
		if f.WantsAck() {
			c.out.Reply(id, *f.ID)
		}
	}
}

func (c *Coordinator) handleSpawn(id wire.ConnID) {
	if c.sessions[id] != stateAdmitted {
		c.metrics.IncDropped(dropNotEligible)
		return
	}
	if _, ok := c.players[id]; ok {
		c.metrics.IncDropped(dropNotEligible)
		return
	}

	others := make(map[wire.ConnID]wire.Player, len(c.players))
	for pid, p := range c.players {
		others[pid] = *p
	}

	p := &wire.Player{
		ID:        id,
		Position:  c.place(c.spawn.Get(), c.rng),
		Rotation:  0,
		Animation: wire.AnimIdle,
		Color:     randomColor(c.rng),
	}
	c.players[id] = p
	c.log.Infow("player spawned", "conn", id, "x", p.Position.X, "y", p.Position.Y, "z", p.Position.Z, "color", p.Color)

	c.out.Send(id, wire.EventCurrentPlayers, others)
	c.out.BroadcastExcept(id, wire.EventNewPlayer, *p)
}

func (c *Coordinator) handleMove(id wire.ConnID, m wire.Move) {
	p, ok := c.players[id]
	if !ok {
		c.metrics.IncDropped(dropUnknownID)
		return
	}
	p.Position = m.Position
	p.Rotation = m.Rotation
	p.Animation = m.Animation
	c.out.BroadcastExcept(id, wire.EventPlayerMoved, *p)
}

func (c *Coordinator) handleUpdateSpawnPoint(id wire.ConnID, u wire.UpdateSpawnPoint) {
	if c.sessions[id] != stateAdmitted {
		c.metrics.IncDropped(dropUnknownID)
		return
	}
	c.log.Infow("spawn point edited", "conn", id, "x", u.Point.X, "y", u.Point.Y, "z", u.Point.Z)
	c.applySpawnPoint(u.Point)
}

func (c *Coordinator) applySpawnPoint(p wire.Vec3) {
	c.spawn.Update(p)
	c.out.Broadcast(wire.EventSpawnPointUpdated, p)
}

func (c *Coordinator) handleDisconnect(id wire.ConnID) {
	st, known := c.sessions[id]
	delete(c.sessions, id)
	reshuffled := c.queue.Remove(id)
	if known && st == stateAdmitted {
		c.admitted--
	}
	if _, ok := c.players[id]; ok {
		delete(c.players, id)
		c.out.Broadcast(wire.EventPlayerDisconnected, id)
	}
	c.log.Infow("client disconnected", "conn", id, "state", st.String(), "known", known)
	c.tryAdmit(reshuffled)
}

func (c *Coordinator) status() Status {
	return Status{
		Players:    len(c.players),
		Admitted:   c.admitted,
		Queued:     c.queue.Len(),
		MaxPlayers: c.maxPlayers,
	}
}
