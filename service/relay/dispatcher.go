package relay

import (
	"fmt"

	"github.com/golang/glog"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Type()] = h
	glog.Infof("register handler type=%s", h.Type())
}

func (d *Dispatcher) Dispatch(ctx *Context, f *EventFrame, conn *ClientConn) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return fmt.Errorf("no handler for type=%s", f.Type)
	}
	return h.Handle(ctx, f, conn)
}

func (d *Dispatcher) GetHandler(typ string) Handler {
	h, ok := d.handlers[typ]
	if !ok {
		glog.Infof("no handler for type=%s", typ)
		return nil
	}
	return h
}
