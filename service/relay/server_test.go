package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"RelayGate/service/profile"
	"RelayGate/service/registry"
	"RelayGate/service/relay"
	"RelayGate/service/relay/handlers"
	"RelayGate/service/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const waitTimeout = 2 * time.Second

// ---- 假后端：一个会接收连接并记录帧的 websocket 服务 ----

type backendSession struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	frames chan *relay.EventFrame
	closed chan struct{}
}

func (s *backendSession) sendFrame(t *testing.T, typ string, args ...any) {
	t.Helper()
	f, err := relay.NewFrame(typ, args...)
	if err != nil {
		t.Fatalf("build %s frame: %v", typ, err)
	}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("encode %s frame: %v", typ, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("backend write %s: %v", typ, err)
	}
}

func (s *backendSession) waitFrame(t *testing.T) *relay.EventFrame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for frame at backend")
		return nil
	}
}

type backendHarness struct {
	srv      *httptest.Server
	sessions chan *backendSession
}

func newBackendHarness(t *testing.T) *backendHarness {
	h := &backendHarness{sessions: make(chan *backendSession, 4)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := &backendSession{
			ws:     ws,
			frames: make(chan *relay.EventFrame, 16),
			closed: make(chan struct{}),
		}
		h.sessions <- sess
		for {
			_, data, rerr := ws.ReadMessage()
			if rerr != nil {
				break
			}
			if f, perr := relay.ParseFrameJSON(data); perr == nil {
				sess.frames <- f
			}
		}
		close(sess.closed)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *backendHarness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *backendHarness) waitSession(t *testing.T) *backendSession {
	t.Helper()
	select {
	case s := <-h.sessions:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for backend session")
		return nil
	}
}

func (h *backendHarness) noSessionWithin(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-h.sessions:
		t.Fatal("unexpected backend session")
	case <-time.After(d):
	}
}

// ---- 假档案查询 ----

type fakeProfiles struct {
	calls atomic.Int32
	bots  []profile.BotInfo
}

func (p *fakeProfiles) BotsByAuthID(_ context.Context, authID string) ([]profile.BotInfo, error) {
	p.calls.Add(1)
	var out []profile.BotInfo
	for _, b := range p.bots {
		if b.AuthID == authID {
			out = append(out, b)
		}
	}
	return out, nil
}

// ---- 网关与客户端 ----

func newGateway(t *testing.T, backendURL string, profiles profile.Lookup) (*relay.Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := registry.New([]registry.Entry{{ID: "worker-1", URL: backendURL}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	srv := relay.NewServer("gw-test", relay.NewConnManager("gw-test"),
		session.NewResolver(nil, reg), profiles)
	srv.Disp().Register(handlers.NewIdentifyHandler())
	srv.Disp().Register(handlers.NewRequestInfoHandler())
	srv.Disp().Register(handlers.NewPingHandler())

	r := gin.New()
	r.GET("/relay", srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return srv, ts
}

type testClient struct {
	ws     *websocket.Conn
	frames chan *relay.EventFrame
	closed chan struct{}
}

func dialClient(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay"
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	c := &testClient{ws: ws, frames: make(chan *relay.EventFrame, 16), closed: make(chan struct{})}
	go func() {
		for {
			_, data, rerr := ws.ReadMessage()
			if rerr != nil {
				close(c.closed)
				return
			}
			if f, perr := relay.ParseFrameJSON(data); perr == nil {
				c.frames <- f
			}
		}
	}()
	t.Cleanup(func() { _ = ws.Close() })
	return c
}

func (c *testClient) send(t *testing.T, typ string, args ...any) {
	t.Helper()
	f, err := relay.NewFrame(typ, args...)
	if err != nil {
		t.Fatalf("build %s frame: %v", typ, err)
	}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("encode %s frame: %v", typ, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("client write %s: %v", typ, err)
	}
}

func (c *testClient) waitFrame(t *testing.T, typ string) *relay.EventFrame {
	t.Helper()
	select {
	case f := <-c.frames:
		if f.Type != typ {
			t.Fatalf("client got frame type=%s, want %s", f.Type, typ)
		}
		return f
	case <-time.After(waitTimeout):
		t.Fatalf("timeout waiting for %s at client", typ)
		return nil
	}
}

func waitStats(t *testing.T, srv *relay.Server, clients, auths, backends int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		c, a, b := srv.Mgr().Stats()
		if c == clients && a == auths && b == backends {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	c, a, b := srv.Mgr().Stats()
	t.Fatalf("stats = (%d,%d,%d), want (%d,%d,%d)", c, a, b, clients, auths, backends)
}

func firstArgString(t *testing.T, f *relay.EventFrame, key string) string {
	t.Helper()
	m := f.FirstArgMap()
	if m == nil {
		t.Fatalf("frame %s has no object payload", f.Type)
	}
	v, _ := m[key].(string)
	return v
}

// ---- 用例 ----

func TestIdentifyDoesNotOpenBackend(t *testing.T) {
	backend := newBackendHarness(t)
	fp := &fakeProfiles{bots: []profile.BotInfo{{BotID: "b1", AuthID: "u1", Name: "bot one"}}}
	srv, ts := newGateway(t, backend.url(), fp)

	cl := dialClient(t, ts)
	cl.send(t, relay.EventIdentify, map[string]any{"auth_id": "u1"})

	bi := cl.waitFrame(t, relay.EventBotInfo)
	if len(bi.Args) == 0 {
		t.Fatal("bot_info frame missing args")
	}
	var bots []profile.BotInfo
	if err := json.Unmarshal(bi.Args[0], &bots); err != nil {
		t.Fatalf("decode bot_info payload: %v", err)
	}
	if len(bots) != 1 || bots[0].BotID != "b1" {
		t.Errorf("bot_info payload = %+v", bots)
	}

	// identify 是保留类型，不能触发后端拨号
	backend.noSessionWithin(t, 300*time.Millisecond)
	waitStats(t, srv, 1, 1, 0)
}

func TestRelayEndToEnd(t *testing.T) {
	backend := newBackendHarness(t)
	fp := &fakeProfiles{bots: []profile.BotInfo{{BotID: "b1", AuthID: "u1"}}}
	_, ts := newGateway(t, backend.url(), fp)

	cl := dialClient(t, ts)
	cl.send(t, relay.EventIdentify, map[string]any{"auth_id": "u1"})
	cl.waitFrame(t, relay.EventBotInfo)

	// 首个非保留事件触发懒建，握手后先报身份再补发触发帧
	cl.send(t, "message", map[string]any{"text": "hi"})
	sess := backend.waitSession(t)

	idf := sess.waitFrame(t)
	if idf.Type != relay.EventIdentify {
		t.Fatalf("backend first frame type=%s, want identify", idf.Type)
	}
	if got := firstArgString(t, idf, "auth_id"); got != "u1" {
		t.Errorf("backend identify auth_id = %q", got)
	}
	trig := sess.waitFrame(t)
	if trig.Type != "message" || firstArgString(t, trig, "text") != "hi" {
		t.Errorf("trigger frame not forwarded intact: %+v", trig)
	}

	// 后端就绪后，客户端帧原样透传
	cl.send(t, "message", map[string]any{"text": "second"})
	if f := sess.waitFrame(t); firstArgString(t, f, "text") != "second" {
		t.Errorf("second frame not relayed: %+v", f)
	}

	// 后端 -> 客户端方向透传
	sess.sendFrame(t, "news", map[string]any{"headline": "ok"})
	if f := cl.waitFrame(t, "news"); firstArgString(t, f, "headline") != "ok" {
		t.Errorf("backend frame not relayed: %+v", f)
	}

	// pairing_code 被截流，客户端收到的是 pairing_notice
	sess.sendFrame(t, relay.EventPairingCode, map[string]any{"auth_id": "u1", "code": "XYZ"})
	pn := cl.waitFrame(t, relay.EventPairingNotice)
	if got := firstArgString(t, pn, "code"); got != "XYZ" {
		t.Errorf("pairing notice code = %q", got)
	}
}

func TestBackendDisconnectAllowsRecreate(t *testing.T) {
	backend := newBackendHarness(t)
	fp := &fakeProfiles{}
	srv, ts := newGateway(t, backend.url(), fp)

	cl := dialClient(t, ts)
	cl.send(t, relay.EventIdentify, map[string]any{"auth_id": "u1"})
	cl.waitFrame(t, relay.EventBotInfo)

	cl.send(t, "message", map[string]any{"text": "one"})
	sess := backend.waitSession(t)
	sess.waitFrame(t) // identify
	sess.waitFrame(t) // trigger

	// 后端先断开：客户端保持在线，关联被摘掉
	_ = sess.ws.Close()
	waitStats(t, srv, 1, 1, 0)

	// 下一个合格事件重新懒建。断开与状态复位之间有一个极小窗口，
	// 窗口内的帧按策略丢弃，这里按周期重发直到新会话出现。
	var sess2 *backendSession
	deadline := time.Now().Add(waitTimeout)
	for sess2 == nil && time.Now().Before(deadline) {
		cl.send(t, "message", map[string]any{"text": "two"})
		select {
		case sess2 = <-backend.sessions:
		case <-time.After(100 * time.Millisecond):
		}
	}
	if sess2 == nil {
		t.Fatal("backend session was not recreated")
	}
	if f := sess2.waitFrame(t); f.Type != relay.EventIdentify {
		t.Fatalf("recreated session first frame type=%s, want identify", f.Type)
	}
	if f := sess2.waitFrame(t); firstArgString(t, f, "text") != "two" {
		t.Errorf("trigger frame after recreate: %+v", f)
	}
}

func TestClientDisconnectTearsDownBackend(t *testing.T) {
	backend := newBackendHarness(t)
	srv, ts := newGateway(t, backend.url(), &fakeProfiles{})

	cl := dialClient(t, ts)
	cl.send(t, relay.EventIdentify, map[string]any{"auth_id": "u1"})
	cl.waitFrame(t, relay.EventBotInfo)
	cl.send(t, "message", map[string]any{"text": "hi"})
	sess := backend.waitSession(t)
	sess.waitFrame(t)
	sess.waitFrame(t)

	// 客户端断开是终态：后端连接随之关闭，索引清空
	_ = cl.ws.Close()
	select {
	case <-sess.closed:
	case <-time.After(waitTimeout):
		t.Fatal("backend session not closed after client disconnect")
	}
	waitStats(t, srv, 0, 0, 0)
}

func TestRequestInfoRepush(t *testing.T) {
	backend := newBackendHarness(t)
	fp := &fakeProfiles{bots: []profile.BotInfo{{BotID: "b1", AuthID: "u1"}}}
	_, ts := newGateway(t, backend.url(), fp)

	cl := dialClient(t, ts)
	cl.send(t, relay.EventIdentify, map[string]any{"auth_id": "u1"})
	cl.waitFrame(t, relay.EventBotInfo)

	cl.send(t, relay.EventRequestInfo)
	cl.waitFrame(t, relay.EventBotInfo)

	if n := fp.calls.Load(); n != 2 {
		t.Errorf("profile lookups = %d, want 2", n)
	}
	// request_info 同样不触发后端
	backend.noSessionWithin(t, 200*time.Millisecond)
}

func TestPingPongStaysLocal(t *testing.T) {
	backend := newBackendHarness(t)
	_, ts := newGateway(t, backend.url(), &fakeProfiles{})

	cl := dialClient(t, ts)
	cl.send(t, relay.EventPing)
	cl.waitFrame(t, relay.EventPong)
	backend.noSessionWithin(t, 200*time.Millisecond)
}

func TestDeliverPairingNoLiveClient(t *testing.T) {
	backend := newBackendHarness(t)
	srv, _ := newGateway(t, backend.url(), &fakeProfiles{})

	if srv.DeliverPairing([]byte(`{"auth_id":"nobody","code":"1"}`)) {
		t.Error("deliver without live client should report false")
	}
	if srv.DeliverPairing([]byte(`not json`)) {
		t.Error("malformed payload should report false")
	}
	if srv.DeliverPairing([]byte(`{"code":"1"}`)) {
		t.Error("payload without auth_id should report false")
	}
}

func TestMalformedClientFrameIgnored(t *testing.T) {
	backend := newBackendHarness(t)
	fp := &fakeProfiles{}
	_, ts := newGateway(t, backend.url(), fp)

	cl := dialClient(t, ts)
	if err := cl.ws.WriteMessage(websocket.TextMessage, []byte(`{"args":[]}`)); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}
	if err := cl.ws.WriteMessage(websocket.TextMessage, []byte(`garbage`)); err != nil {
		t.Fatalf("write garbage frame: %v", err)
	}

	// 坏帧只记日志，连接保持可用
	cl.send(t, relay.EventPing)
	cl.waitFrame(t, relay.EventPong)
	backend.noSessionWithin(t, 200*time.Millisecond)
}

func TestPairingNoticePayloadPassedVerbatim(t *testing.T) {
	backend := newBackendHarness(t)
	_, ts := newGateway(t, backend.url(), &fakeProfiles{})

	cl := dialClient(t, ts)
	cl.send(t, relay.EventIdentify, map[string]any{"auth_id": "u9"})
	cl.waitFrame(t, relay.EventBotInfo)
	cl.send(t, "open", map[string]any{"k": "v"})
	sess := backend.waitSession(t)
	sess.waitFrame(t)
	sess.waitFrame(t)

	// 配对负载里网关不认识的字段也要原样带给客户端
	sess.sendFrame(t, relay.EventPairingCode,
		map[string]any{"auth_id": "u9", "code": "42", "extra": "keepme"})
	pn := cl.waitFrame(t, relay.EventPairingNotice)
	var payload map[string]any
	if len(pn.Args) == 0 {
		t.Fatal("pairing notice missing payload")
	}
	if err := json.Unmarshal(pn.Args[0], &payload); err != nil {
		t.Fatalf("decode pairing payload: %v", err)
	}
	if payload["extra"] != "keepme" {
		t.Errorf("extra field dropped from pairing payload: %v", payload)
	}
}
