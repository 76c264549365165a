package wire

import (
	"encoding/json"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ConnID 由传输层分配的连接标识（不透明、稳定）
type ConnID string

// Vec3 三维坐标（线上格式 {"x","y","z"}）
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// UnmarshalJSON 严格解码：三个分量缺一不可
func (v *Vec3) UnmarshalJSON(b []byte) error {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
		Z *float64 `json:"z"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: vec3: %v", ErrMalformed, err)
	}
	if raw.X == nil || raw.Y == nil || raw.Z == nil {
		return fmt.Errorf("%w: vec3 requires x, y and z", ErrMalformed)
	}
	v.X, v.Y, v.Z = *raw.X, *raw.Y, *raw.Z
	return nil
}

func (v Vec3) Vec() mgl64.Vec3 { return mgl64.Vec3{v.X, v.Y, v.Z} }

func FromVec(m mgl64.Vec3) Vec3 { return Vec3{X: m.X(), Y: m.Y(), Z: m.Z()} }

func (v Vec3) Add(o Vec3) Vec3 { return FromVec(v.Vec().Add(o.Vec())) }

// Animation 角色动画状态，线上为字符串
type Animation string

const (
	AnimIdle Animation = "Idle"
	AnimRun  Animation = "Run"
	AnimJump Animation = "Jump"
)

func (a Animation) Valid() bool {
	switch a {
	case AnimIdle, AnimRun, AnimJump:
		return true
	}
	return false
}

// Player 已准入会话的角色状态（广播给其他客户端）
type Player struct {
	ID        ConnID    `json:"id"`
	Position  Vec3      `json:"position"`
	Rotation  float64   `json:"rotation"` // 绕 Y 轴，弧度
	Animation Animation `json:"animation"`
	Color     string    `json:"color"` // "#rrggbb"
}
