package relay

import (
	"sync"
	"time"

	"RelayGate/logger"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	sendQueueSize = 256
	writeWait     = 5 * time.Second
)

// 后端连接懒建状态：未建 / 建立中 / 已建。
// 状态检查与置位是一步原子操作，保证每客户端至多建一条后端连接。
const (
	backendNone int32 = iota
	backendCreating
	backendReady
)

// ClientConn 一个在线终端用户的网关侧连接。
// 授权标识最多设置一次（首个 identify 生效）；
// 单写协程消费 send 队列（gorilla 连接不允许并发写）。
type ClientConn struct {
	ConnID string
	ws     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	authID       string
	backendState int32
}

func NewClientConn(connID string, ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ConnID: connID,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *ClientConn) AuthID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authID
}

// SetAuthID 首个 identify 生效；已设置过则不再变更，返回 false。
func (c *ClientConn) SetAuthID(authID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authID != "" {
		return false
	}
	c.authID = authID
	return true
}

// beginBackendCreate 懒建闸门：只有 none -> creating 的那次调用返回 true。
func (c *ClientConn) beginBackendCreate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backendState != backendNone {
		return false
	}
	c.backendState = backendCreating
	return true
}

func (c *ClientConn) finishBackendCreate(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.backendState = backendReady
	} else {
		c.backendState = backendNone
	}
}

// resetBackend 后端先断开时调用：回到懒建状态，下一个合格事件重新触发。
func (c *ClientConn) resetBackend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backendState = backendNone
}

func (c *ClientConn) SendFrame(f *EventFrame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw 非阻塞入队；连接已关或队列打满直接丢（无缓冲层，见投递策略）。
func (c *ClientConn) SendRaw(data []byte) error {
	select {
	case <-c.done:
		return errors.New("client conn closed")
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.Errorf("client send queue full conn=%s", c.ConnID)
	}
}

// writePump 单写协程；写失败即关连接，读循环随之退出并走拆除流程。
func (c *ClientConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[WS] write failed conn=%s err=%v", c.ConnID, err)
				c.Close()
				return
			}
		}
	}
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}
