// Package wire 定义客户端与会话服务器之间的事件帧格式与共享数据结构。
//
// 每条 WebSocket 文本消息承载一个 JSON Frame：
//
//	{"event":"move","args":[{"x":1,"y":5,"z":1},0,"Run"]}
//	{"event":"pingSync","id":7}      客户端请求确认
//	{"ack":7,"args":[]}               服务端确认回复
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed    = errors.New("malformed event")
	ErrUnknownEvent = errors.New("unknown event")
)

// 服务端 -> 客户端
const (
	EventQueueUpdate        = "queueUpdate"
	EventLoginAllowed       = "loginAllowed"
	EventCurrentPlayers     = "currentPlayers"
	EventNewPlayer          = "newPlayer"
	EventPlayerMoved        = "playerMoved"
	EventPlayerDisconnected = "playerDisconnected"
	EventSpawnPointUpdated  = "spawnPointUpdated"
)

// 客户端 -> 服务端
const (
	EventSpawn             = "spawn"
	EventMove              = "move"
	EventUpdateSpawnPoint  = "updateSpawnPoint"
	EventRequestSpawnPoint = "requestSpawnPoint"
	EventPingSync          = "pingSync"
)

// Frame 线上事件帧
type Frame struct {
	Event string            `json:"event,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
	ID    *uint64           `json:"id,omitempty"`  // 非空表示发送方期待 ack
	Ack   *uint64           `json:"ack,omitempty"` // 对某个 id 的确认
}

// WantsAck 发送方是否要求确认
func (f Frame) WantsAck() bool { return f.ID != nil }

// IsAck 是否为确认帧
func (f Frame) IsAck() bool { return f.Ack != nil }

// Arg 将第 i 个参数解码到 v
func (f Frame) Arg(i int, v any) error {
	if i < 0 || i >= len(f.Args) {
		return fmt.Errorf("%w: %s: missing argument %d", ErrMalformed, f.Event, i)
	}
	if err := json.Unmarshal(f.Args[i], v); err != nil {
		if errors.Is(err, ErrMalformed) {
			return fmt.Errorf("%s: argument %d: %w", f.Event, i, err)
		}
		return fmt.Errorf("%w: %s: argument %d: %v", ErrMalformed, f.Event, i, err)
	}
	return nil
}

func marshalArgs(args []any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal argument: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Encode 编码一个具名事件
func Encode(event string, args ...any) ([]byte, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Args: raw})
}

// EncodeRequest 编码一个期待确认的事件（客户端侧使用）
func EncodeRequest(id uint64, event string, args ...any) ([]byte, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Args: raw, ID: &id})
}

// EncodeAck 编码对 id 的确认回复
func EncodeAck(id uint64, args ...any) ([]byte, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return nil, fmt.Errorf("ack %d: %w", id, err)
	}
	return json.Marshal(Frame{Ack: &id, Args: raw})
}

// Decode 解析一条文本消息；既无 event 也无 ack 的帧视为畸形
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Event == "" && f.Ack == nil {
		return Frame{}, fmt.Errorf("%w: frame has neither event nor ack", ErrMalformed)
	}
	return f, nil
}
