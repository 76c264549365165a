package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"walkaround/wire"
)

// ErrPersist 出生点写盘失败；内存中的值仍然生效
var ErrPersist = errors.New("spawn point persistence failed")

// DefaultSpawnPoint 无配置文件或文件损坏时使用
var DefaultSpawnPoint = wire.Vec3{X: 0, Y: 5, Z: 0}

// SpawnStore 持有全进程唯一的出生点，并持久化到本地 JSON 文件
type SpawnStore struct {
	path    string
	log     *zap.SugaredLogger
	metrics *Metrics

	mu      sync.RWMutex
	point   wire.Vec3
	pending bool // 有尚未写盘的更新

	wmu   sync.Mutex // 串行化写文件
	dirty chan struct{}
}

func NewSpawnStore(path string, metrics *Metrics) *SpawnStore {
	return &SpawnStore{
		path:    path,
		log:     Log.Named("spawn"),
		metrics: metrics,
		point:   DefaultSpawnPoint,
		dirty:   make(chan struct{}, 1),
	}
}

// Load 启动时读取一次；文件不存在或损坏都回退到默认值，不会中止启动
func (s *SpawnStore) Load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warnw("read spawn config failed, using default", "path", s.path, "error", err)
		}
		return
	}
	var p wire.Vec3
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warnw("malformed spawn config, using default", "path", s.path, "error", err)
		return
	}
	s.mu.Lock()
	s.point = p
	s.mu.Unlock()
	s.log.Infow("spawn point loaded", "path", s.path, "x", p.X, "y", p.Y, "z", p.Z)
}

// Get 返回当前出生点的副本
func (s *SpawnStore) Get() wire.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.point
}

// Set 更新内存并同步写盘；写盘失败时内存值依旧更新
func (s *SpawnStore) Set(p wire.Vec3) error {
	s.mu.Lock()
	s.point = p
	s.pending = true
	s.mu.Unlock()
	return s.persist()
}

// Update 更新内存并安排后台写盘（多次更新合并，最后一次生效）
func (s *SpawnStore) Update(p wire.Vec3) {
	s.mu.Lock()
	s.point = p
	s.pending = true
	s.mu.Unlock()
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Run 后台写盘协程；ctx 结束时把未落盘的值写出后返回
func (s *SpawnStore) Run(ctx context.Context) {
	for {
		select {
		case <-s.dirty:
			if err := s.Flush(); err != nil {
				s.log.Warnw("persist spawn point failed", "path", s.path, "error", err)
			}
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.log.Warnw("final spawn flush failed", "path", s.path, "error", err)
			}
			return
		}
	}
}

// Flush 如有未落盘的更新则立即写盘
func (s *SpawnStore) Flush() error {
	s.mu.RLock()
	pending := s.pending
	s.mu.RUnlock()
	if !pending {
		return nil
	}
	return s.persist()
}

// persist 写出写锁内读取到的最新值，保证文件不会被旧值覆盖
func (s *SpawnStore) persist() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	p := s.point
	s.pending = false
	s.mu.Unlock()

	if err := writeJSONAtomic(s.path, p); err != nil {
		s.metrics.IncPersistError()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.log.Debugw("spawn point persisted", "path", s.path)
	return nil
}

// writeJSONAtomic 先写同目录临时文件再 rename
func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
