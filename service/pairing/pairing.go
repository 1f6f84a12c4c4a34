package pairing

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxPushBody = 1 << 20

// Sink 旁路投递的落点（relay.Server 实现）。
// 投递本身 fire-and-forget：找不到在线客户端即丢弃，无回执。
type Sink interface {
	DeliverPairing(payload []byte) bool
}

// Channel 配对码旁路的入站面：后端可以走 NATS 主题主动推，
// 也可以直接 POST /pairing。两条路都不绑定任何客户端中继对。
type Channel struct {
	sink Sink
	nats *natsSub
}

func NewChannel(sink Sink) *Channel {
	return &Channel{sink: sink}
}

// HandlePush 后端直推的 HTTP 入口。
// 只校验是合法 JSON；auth_id 缺失/无在线客户端由投递端按丢弃策略处理，
// 所以统一回 202。
func (ch *Channel) HandlePush(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ch.sink.DeliverPairing(body)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Close 优雅关闭 NATS 订阅（如有）。
func (ch *Channel) Close() error {
	if ch.nats != nil {
		return ch.nats.close()
	}
	return nil
}
