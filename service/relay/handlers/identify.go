package handlers

import (
	"log"

	"RelayGate/service/relay"
)

type IdentifyHandler struct{}

func NewIdentifyHandler() relay.Handler { return &IdentifyHandler{} }

func (h *IdentifyHandler) Type() string { return relay.EventIdentify }

// Handle 记录授权标识（首次 identify 生效）、登记 auth 索引，
// 然后立刻查档案回推一份 bot_info 快照。
func (h *IdentifyHandler) Handle(ctx *relay.Context, f *relay.EventFrame, conn *relay.ClientConn) error {
	ap, err := relay.ExtractIdentifyPayload(f)
	if err != nil {
		log.Printf("[identify] extract payload err: %v", err)
		return nil
	}
	if ap.AuthID == "" {
		log.Printf("[identify] skip, empty auth_id conn=%s", conn.ConnID)
		return nil
	}

	conn.SetAuthID(ap.AuthID)
	if conn.AuthID() != ap.AuthID {
		// 换身份的后续 identify 忽略
		log.Printf("[identify] ignore re-identify conn=%s keep=%s got=%s",
			conn.ConnID, conn.AuthID(), ap.AuthID)
		return nil
	}

	if err := ctx.S.Mgr().BindAuth(conn.ConnID, ap.AuthID); err != nil {
		log.Printf("[identify] bind auth err conn=%s: %v", conn.ConnID, err)
		return nil
	}

	if err := ctx.S.PushBotInfo(conn); err != nil {
		log.Printf("[identify] push bot info err conn=%s: %v", conn.ConnID, err)
	}
	return nil
}
