package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"RelayGate/logger"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var ErrBackendNotReady = errors.New("backend connection not ready")

// BackendConn 网关代表某个客户端向后端 worker 拨出的连接。
// 一条后端连接归属且仅归属一个 ClientConn。
type BackendConn struct {
	Addr    string
	OwnerID string // 归属客户端的 conn_id

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

// DialBackend 向解析出的后端地址发起 websocket 握手。
// 只有拨号超时这一层保护，没有重试预算；失败由调用方决定下一步。
func DialBackend(addr, ownerID string, timeout time.Duration) (*BackendConn, error) {
	d := websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	ws, _, err := d.Dial(addr, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial backend %s", addr)
	}
	return &BackendConn{
		Addr:    addr,
		OwnerID: ownerID,
		ws:      ws,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}, nil
}

func (b *BackendConn) Connected() bool { return b.connected.Load() }

func (b *BackendConn) markConnected() { b.connected.Store(true) }

// SendRaw 透传入口：后端未就绪直接报错，由调用方按丢弃策略处理。
func (b *BackendConn) SendRaw(data []byte) error {
	if !b.connected.Load() {
		return ErrBackendNotReady
	}
	return b.enqueue(data)
}

// enqueue 握手阶段（报身份、补发触发帧）绕过就绪检查用。
func (b *BackendConn) enqueue(data []byte) error {
	select {
	case <-b.done:
		return errors.New("backend conn closed")
	default:
	}
	select {
	case b.send <- data:
		return nil
	default:
		return errors.Errorf("backend send queue full addr=%s", b.Addr)
	}
}

func (b *BackendConn) writePump() {
	for {
		select {
		case <-b.done:
			return
		case data := <-b.send:
			_ = b.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[Backend] write failed addr=%s owner=%s err=%v", b.Addr, b.OwnerID, err)
				b.Close()
				return
			}
		}
	}
}

func (b *BackendConn) Close() {
	b.closeOnce.Do(func() {
		b.connected.Store(false)
		close(b.done)
		if b.ws != nil {
			_ = b.ws.Close()
		}
	})
}
