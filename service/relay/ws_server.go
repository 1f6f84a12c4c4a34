package relay

import (
	"net"
	"net/http"

	"RelayGate/logger"
	ids "RelayGate/tools/ids"

	"github.com/emicklei/go-restful/v3/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgraded = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS ===== 客户端 WebSocket 入口 =====
// 读循环只读不写；写全部走连接自己的单写协程。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgraded.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	rec := NewClientConn(ids.GenerateString(), ws)
	if err := s.mgr.Add(rec); err != nil {
		logger.Infof("[HandleWS] register conn error: %v", err)
		_ = ws.Close()
		return
	}
	go rec.writePump()
	logger.Infof("[HandleWS] client connected conn=%s remote=%s", rec.ConnID, ws.RemoteAddr())

	// ---- 读循环：出错即退出，进入拆除流程 ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", rec.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", rec.ConnID, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", rec.ConnID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		msg, perr := ParseFrameJSON(data)
		if perr != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			log.Printf("[WS] ParseFrameJSON err conn=%s err=%v sample=%q len=%d",
				rec.ConnID, perr, sample, len(data))
			continue
		}

		s.handleFrame(rec, msg, data)
	}

	// ---- 退出阶段：摘双索引，对应后端连接恰好关一次 ----
	_, bc := s.mgr.Remove(rec.ConnID)
	if bc != nil {
		bc.Close()
	}
	rec.Close()
	logger.Infof("[HandleWS] client disconnected conn=%s", rec.ConnID)
}
