package handlers

import (
	"log"

	"RelayGate/service/relay"
)

type PingHandler struct{}

func NewPingHandler() relay.Handler { return &PingHandler{} }

func (h *PingHandler) Type() string { return relay.EventPing }

// Handle 应用层心跳：本地回 pong，不透传后端。
func (h *PingHandler) Handle(_ *relay.Context, _ *relay.EventFrame, conn *relay.ClientConn) error {
	pong, err := relay.NewFrame(relay.EventPong)
	if err != nil {
		return err
	}
	if err := conn.SendFrame(pong); err != nil {
		log.Printf("[ping] pong send err conn=%s: %v", conn.ConnID, err)
	}
	return nil
}
