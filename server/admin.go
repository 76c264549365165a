package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"walkaround/wire"
)

const adminTimeout = 5 * time.Second

// Admin 运维接口：读取 / 修改出生点，查看占用
type Admin struct {
	coord    *Coordinator
	registry *Registry
	spawn    *SpawnStore
}

func NewAdmin(coord *Coordinator, registry *Registry, spawn *SpawnStore) *Admin {
	return &Admin{coord: coord, registry: registry, spawn: spawn}
}

// HandleSpawn 出生点读取与更新
// GET  /admin/spawn  返回当前出生点
// POST /admin/spawn  以 {"x","y","z"} 更新并广播 spawnPointUpdated
func (a *Admin) HandleSpawn(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.spawn.Get())
	case http.MethodPost:
		var p wire.Vec3
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
		defer cancel()
		if err := a.coord.EditSpawnPoint(ctx, p); err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			http.Error(w, err.Error(), status)
			return
		}
		Log.Infof("spawn point updated via admin: x=%.2f y=%.2f z=%.2f", p.X, p.Y, p.Z)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "spawn": p})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStatus 输出玩家、排队与连接数量
// GET /admin/status
func (a *Admin) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	st, err := a.coord.Status(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	st.Connections = a.registry.Len()
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
