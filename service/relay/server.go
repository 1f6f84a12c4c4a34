package relay

import (
	"context"
	"encoding/json"
	"time"

	"RelayGate/logger"
	"RelayGate/service/profile"
	"RelayGate/service/session"
	decode "RelayGate/tools/decode"
	safe "RelayGate/tools/safe"

	"github.com/pkg/errors"
)

const dialTimeout = 10 * time.Second

// Server 连接路由核心：每客户端的中继状态机。
//
// 状态流转：Connected（无后端）-> Relaying（已挂后端）-> Closed。
// 首个非保留事件触发后端解析与拨号（懒建、至多一次）；
// 之后客户端帧原样转后端、后端帧原样转客户端，
// 例外只有 pairing_code（走旁路）与 pong（本地心跳）。
// 后端先断开时只清关联，客户端保持在线、下个合格事件重新懒建；
// 客户端断开才是终态，所有状态随之清空。
type Server struct {
	gwID     string
	mgr      *ConnManager
	disp     *Dispatcher
	resolver *session.Resolver
	profiles profile.Lookup
}

func NewServer(gwID string, mgr *ConnManager, resolver *session.Resolver, profiles profile.Lookup) *Server {
	return &Server{
		gwID:     gwID,
		mgr:      mgr,
		disp:     NewDispatcher(),
		resolver: resolver,
		profiles: profiles,
	}
}

func (s *Server) Mgr() *ConnManager { return s.mgr }

func (s *Server) Disp() *Dispatcher { return s.disp }

// handleFrame 由该客户端的读协程串行调用；raw 是原始报文，透传时不再序列化。
func (s *Server) handleFrame(c *ClientConn, f *EventFrame, raw []byte) {
	switch f.Type {
	case EventIdentify, EventRequestInfo, EventPing:
		if err := s.disp.Dispatch(&Context{S: s}, f, c); err != nil {
			logger.Infof("[Relay] handler error type=%s conn=%s err=%v", f.Type, c.ConnID, err)
		}
	case EventPairingCode, EventPairingNotice, EventBotInfo, EventPong:
		// 保留类型不接受客户端侧伪造，不透传
		logger.Infof("[Relay] drop reserved frame from client type=%s conn=%s", f.Type, c.ConnID)
	default:
		s.relayToBackend(c, f, raw)
	}
}

// relayToBackend 转发一帧到后端；没有后端连接时触发懒建。
// 懒建进行中/后端未就绪的帧按策略静默丢弃（无缓冲层），
// 唯一例外是触发懒建的那一帧：交给拨号协程，握手完成后补发。
func (s *Server) relayToBackend(c *ClientConn, f *EventFrame, raw []byte) {
	if bc, ok := s.mgr.GetBackend(c.ConnID); ok {
		if !bc.Connected() {
			logger.Infof("[Relay] backend mid-handshake, drop frame type=%s conn=%s", f.Type, c.ConnID)
			return
		}
		if err := bc.SendRaw(raw); err != nil {
			logger.Infof("[Relay] forward to backend failed conn=%s err=%v", c.ConnID, err)
		}
		return
	}

	if !c.beginBackendCreate() {
		logger.Infof("[Relay] backend connecting, drop frame type=%s conn=%s", f.Type, c.ConnID)
		return
	}
	trigger := append([]byte(nil), raw...)
	hints := ExtractResolveHints(f)
	safe.SafeGo(func() { s.openBackend(c, hints, trigger) })
}

// openBackend 解析归属后端、拨号、登记关联，然后补发触发帧。
func (s *Server) openBackend(c *ClientConn, hints IdentifyPayload, trigger []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	entry := s.resolver.Resolve(ctx, session.ResolveInput{
		Phone:  hints.Phone,
		AuthID: c.AuthID(),
	})

	bc, err := DialBackend(entry.URL, c.ConnID, dialTimeout)
	if err != nil {
		// 不重试：回到懒建状态，客户端下个合格事件再触发
		logger.Errorf("[Relay] dial backend failed conn=%s backend=%s err=%v", c.ConnID, entry.ID, err)
		c.finishBackendCreate(false)
		return
	}
	if err := s.mgr.SetBackend(c.ConnID, bc); err != nil {
		// 拨号期间客户端已断开
		logger.Infof("[Relay] client gone during dial conn=%s backend=%s", c.ConnID, entry.ID)
		bc.Close()
		c.finishBackendCreate(false)
		return
	}

	go bc.writePump()
	safe.SafeGo(func() { s.backendReadLoop(c, bc) })

	// 连上先报归属客户端的身份，再补发触发帧
	idf, err := NewFrame(EventIdentify, IdentifyPayload{AuthID: c.AuthID()})
	if err == nil {
		if data, err := idf.Encode(); err == nil {
			_ = bc.enqueue(data)
		}
	}
	bc.markConnected()
	c.finishBackendCreate(true)

	if err := bc.SendRaw(trigger); err != nil {
		logger.Infof("[Relay] forward trigger failed conn=%s err=%v", c.ConnID, err)
	}
	logger.Infof("[Relay] backend attached conn=%s backend=%s addr=%s", c.ConnID, entry.ID, entry.URL)
}

// backendReadLoop 后端 -> 客户端方向的透传循环。
func (s *Server) backendReadLoop(c *ClientConn, bc *BackendConn) {
	for {
		_, data, err := bc.ws.ReadMessage()
		if err != nil {
			logger.Infof("[Relay] backend closed conn=%s addr=%s err=%v", c.ConnID, bc.Addr, err)
			break
		}
		f, perr := ParseFrameJSON(data)
		if perr != nil {
			logger.Infof("[Relay] bad backend frame conn=%s err=%v", c.ConnID, perr)
			continue
		}
		switch f.Type {
		case EventPairingCode:
			var payload json.RawMessage
			if len(f.Args) > 0 {
				payload = f.Args[0]
			}
			s.DeliverPairing(payload)
		case EventPong:
			// 应用层心跳，不透传
		default:
			if err := c.SendRaw(data); err != nil {
				logger.Infof("[Relay] forward to client failed conn=%s err=%v", c.ConnID, err)
			}
		}
	}

	bc.Close()
	if s.mgr.ClearBackend(c.ConnID, bc) {
		// 后端先断：客户端保持在线，回到懒建状态
		c.resetBackend()
	}
}

// DeliverPairing 配对码旁路投递，fire-and-forget。
// payload 是一个 JSON 对象，auth_id 字段定位目标客户端；
// 没有在线客户端匹配就静默丢弃（无队列、无重试、无回执）。
// 入口有三个：后端帧截流、NATS 主题、后端直推 HTTP，全部汇到这里，
// 不依赖任何已存在的中继对。
func (s *Server) DeliverPairing(payload []byte) bool {
	if len(payload) == 0 {
		logger.Infof("[Pairing] empty payload, drop")
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Infof("[Pairing] bad payload: %v", err)
		return false
	}
	pp, err := decode.DecodeMap[PairingPayload](m)
	if err != nil || pp.AuthID == "" {
		logger.Infof("[Pairing] payload missing auth_id, drop")
		return false
	}

	notice := &EventFrame{Type: EventPairingNotice, Args: []json.RawMessage{payload}}
	data, err := notice.Encode()
	if err != nil {
		return false
	}
	if !s.mgr.DeliverToAuth(pp.AuthID, data) {
		logger.Infof("[Pairing] no live client auth=%s, drop", pp.AuthID)
		return false
	}
	logger.Infof("[Pairing] delivered auth=%s", pp.AuthID)
	return true
}

// PushBotInfo 查询档案协作方并把 bot_info 快照推给该客户端。
// identify 后推一次，request_info 可重复触发。
func (s *Server) PushBotInfo(c *ClientConn) error {
	authID := c.AuthID()
	if authID == "" {
		return errors.New("client has no auth id")
	}
	if s.profiles == nil {
		return errors.New("profile lookup not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bots, err := s.profiles.BotsByAuthID(ctx, authID)
	if err != nil {
		return errors.Wrapf(err, "bots lookup auth=%s", authID)
	}
	if bots == nil {
		bots = []profile.BotInfo{}
	}
	f, err := NewFrame(EventBotInfo, bots)
	if err != nil {
		return err
	}
	return c.SendFrame(f)
}
