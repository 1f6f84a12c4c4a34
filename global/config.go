package global

import (
	"context"
	"time"

	redis "RelayGate/service/storage/redis"
	ids "RelayGate/tools/ids"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConfigIds() {
	ids.SetNodeID(100)
}

func ConfigRedis(cfg AppConfig) error {
	return redis.InitRedis(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 20,
	})
}

// ConfigMongo 连接档案库，启动时 ping 一次确认可用。
func ConfigMongo(cfg AppConfig) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.MongoURI).SetMaxPoolSize(20)
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongo")
	}
	return cli.Database(cfg.MongoDatabase), nil
}
