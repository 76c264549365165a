package wire

import "fmt"

// Incoming 客户端事件的标签联合，由 ParseIncoming 生成
type Incoming interface {
	EventName() string
}

type Spawn struct{}

// Move 客户端上报的姿态（位置、朝向、动画）
type Move struct {
	Position  Vec3
	Rotation  float64
	Animation Animation
}

type UpdateSpawnPoint struct {
	Point Vec3
}

type RequestSpawnPoint struct{}

type PingSync struct{}

func (Spawn) EventName() string             { return EventSpawn }
func (Move) EventName() string              { return EventMove }
func (UpdateSpawnPoint) EventName() string  { return EventUpdateSpawnPoint }
func (RequestSpawnPoint) EventName() string { return EventRequestSpawnPoint }
func (PingSync) EventName() string          { return EventPingSync }

// ParseIncoming 按事件名校验参数形状并转换为具体类型
func ParseIncoming(f Frame) (Incoming, error) {
	switch f.Event {
	case EventSpawn:
		return Spawn{}, nil
	case EventRequestSpawnPoint:
		return RequestSpawnPoint{}, nil
	case EventPingSync:
		return PingSync{}, nil
	case EventMove:
		var m Move
		if err := f.Arg(0, &m.Position); err != nil {
			return nil, err
		}
		if err := f.Arg(1, &m.Rotation); err != nil {
			return nil, err
		}
		var anim string
		if err := f.Arg(2, &anim); err != nil {
			return nil, err
		}
		m.Animation = Animation(anim)
		if !m.Animation.Valid() {
			return nil, fmt.Errorf("%w: move: unknown animation %q", ErrMalformed, anim)
		}
		return m, nil
	case EventUpdateSpawnPoint:
		var u UpdateSpawnPoint
		if err := f.Arg(0, &u.Point); err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}
