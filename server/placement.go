package server

import (
	"fmt"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"

	"walkaround/config"
	"walkaround/wire"
)

// Placement 计算新玩家的初始位置
type Placement func(spawn wire.Vec3, rng *rand.Rand) wire.Vec3

// JitterPlacement 出生点加 x、z 方向 U(-1,1) 扰动，避免重叠
func JitterPlacement(spawn wire.Vec3, rng *rand.Rand) wire.Vec3 {
	offset := mgl64.Vec3{uniform(rng, -1, 1), 0, uniform(rng, -1, 1)}
	return wire.FromVec(spawn.Vec().Add(offset))
}

// ScatterPlacement 忽略出生点，在 x、z ∈ U(-20,20)、y=5 处随机落点
func ScatterPlacement(_ wire.Vec3, rng *rand.Rand) wire.Vec3 {
	return wire.Vec3{X: uniform(rng, -20, 20), Y: 5, Z: uniform(rng, -20, 20)}
}

// PlacementFor 按配置选择落点策略，默认 jitter
func PlacementFor(policy string) Placement {
	if policy == config.PolicyScatter {
		return ScatterPlacement
	}
	return JitterPlacement
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// randomColor 随机 24 位颜色 "#rrggbb"
func randomColor(rng *rand.Rand) string {
	return fmt.Sprintf("#%06x", rng.IntN(1<<24))
}
