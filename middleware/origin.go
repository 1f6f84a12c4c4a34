package middleware

import (
	"net/http"
	"time"

	"RelayGate/logger"

	"github.com/gin-gonic/gin"
)

// Origin 升级请求的来源校验。
// allowed 为空表示不限制（内网部署的默认姿势）；
// 配了就只放行 Origin 头完全匹配的请求，其余 403。
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(set) == 0 {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if _, ok := set[origin]; !ok {
			logger.Infof("[Origin] reject origin=%q path=%s", origin, c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// AccessLog 普通 HTTP 路径的访问日志；/relay 升级成功后长期占住 handler，
// 耗时没有意义，跳过不记。
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		logger.Infof("[HTTP] %s %s status=%d cost=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
