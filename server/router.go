package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
)

// RouterConfig 组装 HTTP 入口所需的组件
type RouterConfig struct {
	StaticRoot string
	Transport  http.Handler
	Admin      *Admin // 为 nil 时不挂载 /admin
	Metrics    *Metrics
}

// NewRouter 同一端口：WebSocket（/ 与 /ws）、静态资源 + SPA 回退、管理与监控接口
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	// 演示环境：允许所有来源（生产环境需收紧）
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	if cfg.Admin != nil {
		r.Route("/admin", func(r chi.Router) {
			r.HandleFunc("/spawn", cfg.Admin.HandleSpawn)
			r.Get("/status", cfg.Admin.HandleStatus)
		})
	}
	r.Handle("/ws", cfg.Transport)

	spa := &spaHandler{root: cfg.StaticRoot}
	r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if websocket.IsWebSocketUpgrade(req) {
			cfg.Transport.ServeHTTP(w, req)
			return
		}
		spa.ServeHTTP(w, req)
	}))
	return r
}

// spaHandler 存在的文件直接返回，其余路径回退到 index.html
type spaHandler struct {
	root string
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := filepath.Join(h.root, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	if fi, err := os.Stat(name); err == nil && !fi.IsDir() {
		http.ServeFile(w, r, name)
		return
	}
	index := filepath.Join(h.root, "index.html")
	if _, err := os.Stat(index); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, index)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		Log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
