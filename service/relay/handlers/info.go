package handlers

import (
	"log"

	"RelayGate/service/relay"
)

type RequestInfoHandler struct{}

func NewRequestInfoHandler() relay.Handler { return &RequestInfoHandler{} }

func (h *RequestInfoHandler) Type() string { return relay.EventRequestInfo }

// Handle 按最近一次 identify 的授权标识重推 bot_info 快照，
// 每个 request_info 恰好一次回推。
func (h *RequestInfoHandler) Handle(ctx *relay.Context, _ *relay.EventFrame, conn *relay.ClientConn) error {
	if conn.AuthID() == "" {
		log.Printf("[request_info] skip, not identified conn=%s", conn.ConnID)
		return nil
	}
	if err := ctx.S.PushBotInfo(conn); err != nil {
		log.Printf("[request_info] push bot info err conn=%s: %v", conn.ConnID, err)
	}
	return nil
}
