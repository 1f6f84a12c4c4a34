package global

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	GatewayNodeID string // 节点的Id
	Port          int    // http 启动端口

	RegistryPath string // 后端注册表文件

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration // 会话归属键 TTL

	MongoURI      string
	MongoDatabase string

	NatsServers    []string // 为空则关闭 NATS 旁路
	PairingSubject string   // 为空用默认主题

	AllowedOrigins []string // 为空不校验 Origin
}

// LoadAppConfig 全部从环境变量取，给默认值，方便裸起。
func LoadAppConfig() AppConfig {
	return AppConfig{
		GatewayNodeID:  Env("GATEWAY_ID", "relay_gw-1"),
		Port:           EnvInt("PORT", 8080),
		RegistryPath:   Env("REGISTRY_PATH", "backends.yaml"),
		RedisAddr:      Env("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  Env("REDIS_PASSWORD", ""),
		RedisDB:        EnvInt("REDIS_DB", 0),
		SessionTTL:     time.Duration(EnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		MongoURI:       Env("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  Env("MONGO_DB", "relaygate"),
		NatsServers:    envList("NATS_SERVERS"),
		PairingSubject: Env("PAIRING_SUBJECT", ""),
		AllowedOrigins: envList("ALLOWED_ORIGINS"),
	}
}

func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
