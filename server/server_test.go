package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkaround/wire"
)

type testServer struct {
	url       string
	wsURL     string
	spawnFile string
	coord     *Coordinator
}

func startServer(t *testing.T, maxPlayers int) *testServer {
	t.Helper()
	dir := t.TempDir()
	static := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(static, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>walkaround</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0o644))

	metrics := NewMetrics()
	spawnFile := filepath.Join(dir, "spawn_config.json")
	store := NewSpawnStore(spawnFile, metrics)
	store.Load()
	registry := NewRegistry(metrics)
	coord := NewCoordinator(registry, store, metrics, Options{MaxPlayers: maxPlayers})

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	go store.Run(ctx)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		StaticRoot: static,
		Transport:  NewTransport(registry, coord, metrics),
		Admin:      NewAdmin(coord, registry, store),
		Metrics:    metrics,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testServer{
		url:       srv.URL,
		wsURL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/",
		spawnFile: spawnFile,
		coord:     coord,
	}
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (s *testServer) dial(t *testing.T) *testClient {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) emit(event string, args ...any) {
	c.t.Helper()
	b, err := wire.Encode(event, args...)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, b))
}

func (c *testClient) request(id uint64, event string) {
	c.t.Helper()
	b, err := wire.EncodeRequest(id, event)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, b))
}

func (c *testClient) next() wire.Frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, b, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	f, err := wire.Decode(b)
	require.NoError(c.t, err)
	return f
}

// expectNext 下一帧必须是指定事件
func (c *testClient) expectNext(event string) wire.Frame {
	c.t.Helper()
	f := c.next()
	require.Equal(c.t, event, f.Event, "unexpected frame %+v", f)
	return f
}

// handshake 读取连接后的 queueUpdate、loginAllowed、spawnPointUpdated
func (c *testClient) handshake() {
	c.t.Helper()
	var pos int
	require.NoError(c.t, c.expectNext(wire.EventQueueUpdate).Arg(0, &pos))
	require.Equal(c.t, 1, pos)
	c.expectNext(wire.EventLoginAllowed)
	c.expectNext(wire.EventSpawnPointUpdated)
}

func (c *testClient) spawn() map[wire.ConnID]wire.Player {
	c.t.Helper()
	c.emit(wire.EventSpawn)
	var players map[wire.ConnID]wire.Player
	require.NoError(c.t, c.expectNext(wire.EventCurrentPlayers).Arg(0, &players))
	return players
}

func TestServer_SoloJoin(t *testing.T) {
	s := startServer(t, 20)
	c1 := s.dial(t)

	var pos int
	require.NoError(t, c1.expectNext(wire.EventQueueUpdate).Arg(0, &pos))
	assert.Equal(t, 1, pos)
	c1.expectNext(wire.EventLoginAllowed)
	var sp wire.Vec3
	require.NoError(t, c1.expectNext(wire.EventSpawnPointUpdated).Arg(0, &sp))
	assert.Equal(t, wire.Vec3{X: 0, Y: 5, Z: 0}, sp)

	assert.Empty(t, c1.spawn())
}

func TestServer_MovementFanOutAndDisconnect(t *testing.T) {
	s := startServer(t, 20)

	c1 := s.dial(t)
	c1.handshake()
	require.Empty(t, c1.spawn())

	c2 := s.dial(t)
	c2.handshake()
	others := c2.spawn()
	require.Len(t, others, 1)
	var c1ID wire.ConnID
	for id := range others {
		c1ID = id
	}

	var added wire.Player
	require.NoError(t, c1.expectNext(wire.EventNewPlayer).Arg(0, &added))
	assert.NotEqual(t, c1ID, added.ID)

	c1.emit(wire.EventMove, wire.Vec3{X: 5, Y: 5, Z: 5}, 1.57, wire.AnimRun)
	var moved wire.Player
	require.NoError(t, c2.expectNext(wire.EventPlayerMoved).Arg(0, &moved))
	assert.Equal(t, c1ID, moved.ID)
	assert.Equal(t, wire.Vec3{X: 5, Y: 5, Z: 5}, moved.Position)
	assert.Equal(t, 1.57, moved.Rotation)
	assert.Equal(t, wire.AnimRun, moved.Animation)

	// 发送方收不到自己的 playerMoved：紧接着的 ping 回复就是下一帧
	c1.request(9, wire.EventPingSync)
	ack := c1.next()
	require.True(t, ack.IsAck())
	assert.Equal(t, uint64(9), *ack.Ack)

	require.NoError(t, c1.ws.Close())
	var gone wire.ConnID
	require.NoError(t, c2.expectNext(wire.EventPlayerDisconnected).Arg(0, &gone))
	assert.Equal(t, c1ID, gone)
}

func TestServer_QueueAtCapacity(t *testing.T) {
	s := startServer(t, 1)

	c1 := s.dial(t)
	c1.handshake()
	c1.spawn()

	c2 := s.dial(t)
	var pos int
	require.NoError(t, c2.expectNext(wire.EventQueueUpdate).Arg(0, &pos))
	assert.Equal(t, 1, pos)
	c2.expectNext(wire.EventSpawnPointUpdated)

	require.NoError(t, c1.ws.Close())
	c2.expectNext(wire.EventPlayerDisconnected)
	c2.expectNext(wire.EventLoginAllowed)
	assert.Empty(t, c2.spawn())
}

func TestServer_PingSync(t *testing.T) {
	s := startServer(t, 20)
	c1 := s.dial(t)
	c1.handshake()
	c1.spawn()

	start := time.Now()
	c1.request(1, wire.EventPingSync)
	ack := c1.next()
	require.True(t, ack.IsAck())
	assert.Equal(t, uint64(1), *ack.Ack)
	assert.GreaterOrEqual(t, time.Since(start), time.Duration(0))
}

func TestServer_SpawnEditPersists(t *testing.T) {
	s := startServer(t, 20)
	c1 := s.dial(t)
	c1.handshake()
	c2 := s.dial(t)
	c2.handshake()

	c1.emit(wire.EventUpdateSpawnPoint, wire.Vec3{X: 7, Y: 5, Z: -2})
	for _, c := range []*testClient{c1, c2} {
		var p wire.Vec3
		require.NoError(t, c.expectNext(wire.EventSpawnPointUpdated).Arg(0, &p))
		assert.Equal(t, wire.Vec3{X: 7, Y: 5, Z: -2}, p)
	}

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(s.spawnFile)
		if err != nil {
			return false
		}
		var p wire.Vec3
		return json.Unmarshal(data, &p) == nil && p == wire.Vec3{X: 7, Y: 5, Z: -2}
	}, 2*time.Second, 10*time.Millisecond)

	c1.request(4, wire.EventRequestSpawnPoint)
	ack := c1.next()
	require.True(t, ack.IsAck())
	var p wire.Vec3
	require.NoError(t, ack.Arg(0, &p))
	assert.Equal(t, wire.Vec3{X: 7, Y: 5, Z: -2}, p)
}

func TestServer_AdminEndpoints(t *testing.T) {
	s := startServer(t, 20)
	c1 := s.dial(t)
	c1.handshake()
	c1.spawn()

	resp, err := http.Post(s.url+"/admin/spawn", "application/json", strings.NewReader(`{"x":1,"y":6,"z":2}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p wire.Vec3
	require.NoError(t, c1.expectNext(wire.EventSpawnPointUpdated).Arg(0, &p))
	assert.Equal(t, wire.Vec3{X: 1, Y: 6, Z: 2}, p)

	resp, err = http.Get(s.url + "/admin/spawn")
	require.NoError(t, err)
	var got wire.Vec3
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, p, got)

	resp, err = http.Post(s.url+"/admin/spawn", "application/json", strings.NewReader(`{"x":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(s.url + "/admin/status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, 1, st.Players)
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, 20, st.MaxPlayers)
}

func TestServer_StaticAndHealth(t *testing.T) {
	s := startServer(t, 20)

	get := func(path string, header http.Header) (*http.Response, string) {
		req, err := http.NewRequest(http.MethodGet, s.url+path, nil)
		require.NoError(t, err)
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(body)
	}

	resp, body := get("/healthz", http.Header{"Origin": {"http://example.com"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	_, body = get("/app.js", nil)
	assert.Equal(t, "console.log(1)", body)

	_, body = get("/", nil)
	assert.Equal(t, "<html>walkaround</html>", body)

	resp, body = get("/editor/some/route", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>walkaround</html>", body)

	resp, body = get("/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "walkaround_connections")
}

func TestServer_MalformedFrameDoesNotDropConnection(t *testing.T) {
	s := startServer(t, 20)
	c1 := s.dial(t)
	c1.handshake()

	require.NoError(t, c1.ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	c1.emit(wire.EventMove, "not-a-vector")
	c1.request(2, wire.EventPingSync)
	ack := c1.next()
	require.True(t, ack.IsAck())
	assert.Equal(t, uint64(2), *ack.Ack)
}
