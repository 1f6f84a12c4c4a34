package main

import (
	"fmt"
	"log"
	"net/http"

	global "RelayGate/global"
	"RelayGate/logger"
	"RelayGate/middleware"
	"RelayGate/service/pairing"
	"RelayGate/service/profile"
	"RelayGate/service/registry"
	"RelayGate/service/relay"
	"RelayGate/service/relay/handlers"
	"RelayGate/service/session"
	redisstore "RelayGate/service/storage/redis"

	"github.com/gin-gonic/gin"
)

func main() {

	global.ConfigIds()
	cfg := global.LoadAppConfig()

	// 1) 注册表一次性加载，第一个条目是兜底后端
	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		log.Fatalf("load backend registry: %v", err)
	}
	logger.Infof("[Boot] registry loaded entries=%d fallback=%s", reg.Len(), reg.First().ID)

	// 2) 会话存储：不可用时解析全部走兜底，网关仍可服务
	var store session.Store
	if err := global.ConfigRedis(cfg); err != nil {
		logger.Errorf("[Boot] redis init failed, resolver falls back to first registry entry: %v", err)
	} else {
		store = session.NewRedisStore(redisstore.GetRedis(), cfg.SessionTTL)
	}

	// 3) 档案库：不可用时 bot_info 推送降级为报错日志
	var profiles profile.Lookup
	if db, merr := global.ConfigMongo(cfg); merr != nil {
		logger.Errorf("[Boot] mongo init failed, bot info push disabled: %v", merr)
	} else {
		profiles = profile.NewMongoLookup(db)
	}

	// 4) 中继核心
	mgr := relay.NewConnManager(cfg.GatewayNodeID)
	srv := relay.NewServer(cfg.GatewayNodeID, mgr, session.NewResolver(store, reg), profiles)
	srv.Disp().Register(handlers.NewIdentifyHandler())
	srv.Disp().Register(handlers.NewRequestInfoHandler())
	srv.Disp().Register(handlers.NewPingHandler())

	// 5) 配对码旁路：NATS 订阅 + 后端直推 HTTP
	ch := pairing.NewChannel(srv)
	if len(cfg.NatsServers) > 0 {
		err := ch.StartNATS(pairing.NatsConfig{
			Servers: cfg.NatsServers,
			Subject: cfg.PairingSubject,
			Name:    cfg.GatewayNodeID,
		})
		if err != nil {
			logger.Errorf("[Boot] nats pairing channel failed: %v", err)
		}
	} else {
		logger.Warnf("[Boot] NATS_SERVERS empty, pairing push only via HTTP")
	}

	// 6) HTTP + WebSocket
	middleware.Manager().Add(gin.Recovery())
	middleware.Manager().Add(middleware.AccessLog())
	r := gin.New()
	r.Use(middleware.Manager().Use())

	r.GET("/relay", middleware.Origin(cfg.AllowedOrigins), srv.HandleWS) // e.g. ws://localhost:8080/relay
	r.POST("/pairing", ch.HandlePush)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": cfg.GatewayNodeID})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Infof("[HTTP] Listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
