package relay

// Handler 保留事件类型的处理器。
type Handler interface {
	Type() string
	Handle(*Context, *EventFrame, *ClientConn) error
}

type Context struct {
	S *Server
}
