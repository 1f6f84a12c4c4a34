package relay

import (
	"sync"

	"RelayGate/logger"

	"github.com/pkg/errors"
)

// ConnManager 维护三张索引：
//
//	byConn   conn_id -> 客户端连接（主索引）
//	byAuth   auth_id -> 客户端连接（配对旁路专用；同一 auth_id 至多一条在线）
//	backends conn_id -> 该客户端的后端连接（客户端断开时据此拆除）
//
// 索引只在连接/断开/identify 三个迁移点变更，全部走本类型的方法，
// 原始 map 不外泄，断开后不留悬挂条目。
type ConnManager struct {
	mu       sync.RWMutex
	byConn   map[string]*ClientConn
	byAuth   map[string]*ClientConn
	backends map[string]*BackendConn

	gwID string
}

func NewConnManager(gwID string) *ConnManager {
	return &ConnManager{
		byConn:   make(map[string]*ClientConn),
		byAuth:   make(map[string]*ClientConn),
		backends: make(map[string]*BackendConn),
		gwID:     gwID,
	}
}

func (m *ConnManager) GwID() string { return m.gwID }

// Add 客户端连上时登记主索引。
func (m *ConnManager) Add(c *ClientConn) error {
	if c == nil || c.ConnID == "" {
		return errors.New("conn/connID empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byConn[c.ConnID]; exists {
		return errors.Errorf("conn_id exists: %s", c.ConnID)
	}
	m.byConn[c.ConnID] = c
	return nil
}

func (m *ConnManager) Get(connID string) (*ClientConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

func (m *ConnManager) GetByAuth(authID string) (*ClientConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byAuth[authID]
	return c, ok
}

// BindAuth 把 auth_id 挂到该连接；同一 auth_id 重连时覆盖旧条目，不产生重复。
func (m *ConnManager) BindAuth(connID, authID string) error {
	if connID == "" || authID == "" {
		return errors.New("connID/authID empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return errors.Errorf("conn_id not found: %s", connID)
	}
	if old, exists := m.byAuth[authID]; exists && old != c {
		logger.Infof("[ConnManager] auth index overwrite auth=%s old=%s new=%s", authID, old.ConnID, connID)
	}
	m.byAuth[authID] = c
	return nil
}

// SetBackend 记录 client↔backend 关联；客户端已下线时报错，调用方负责关掉后端连接。
func (m *ConnManager) SetBackend(connID string, bc *BackendConn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byConn[connID]; !ok {
		return errors.Errorf("conn_id not found: %s", connID)
	}
	if _, exists := m.backends[connID]; exists {
		return errors.Errorf("backend already attached conn=%s", connID)
	}
	m.backends[connID] = bc
	return nil
}

func (m *ConnManager) GetBackend(connID string) (*BackendConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bc, ok := m.backends[connID]
	return bc, ok
}

// ClearBackend 后端断开路径：只摘掉仍指向这条后端连接的关联。
func (m *ConnManager) ClearBackend(connID string, bc *BackendConn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.backends[connID]
	if !ok || cur != bc {
		return false
	}
	delete(m.backends, connID)
	return true
}

// Remove 客户端断开：摘掉双索引，返回待关闭的后端连接（如有）。
// auth 条目只在仍指向本连接时删除（重连覆盖后归新连接所有）。
func (m *ConnManager) Remove(connID string) (*ClientConn, *BackendConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return nil, nil
	}
	delete(m.byConn, connID)
	if a := c.AuthID(); a != "" {
		if cur, ok := m.byAuth[a]; ok && cur == c {
			delete(m.byAuth, a)
		}
	}
	bc := m.backends[connID]
	delete(m.backends, connID)
	return c, bc
}

// DeliverToAuth 配对旁路投递：查找+入队在同一把锁下完成，
// 与断开摘除同一条目的动作互斥。
func (m *ConnManager) DeliverToAuth(authID string, data []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byAuth[authID]
	if !ok {
		return false
	}
	if err := c.SendRaw(data); err != nil {
		logger.Infof("[ConnManager] deliver to auth=%s failed: %v", authID, err)
		return false
	}
	return true
}

// Stats 返回三张索引的条目数（监控/单测用）。
func (m *ConnManager) Stats() (clients, auths, backends int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn), len(m.byAuth), len(m.backends)
}

// Close 网关退出：关掉所有客户端与后端连接，清空索引。
func (m *ConnManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byConn {
		c.Close()
	}
	for _, bc := range m.backends {
		bc.Close()
	}
	m.byConn = make(map[string]*ClientConn)
	m.byAuth = make(map[string]*ClientConn)
	m.backends = make(map[string]*BackendConn)
}
