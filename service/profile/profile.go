package profile

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Bot Status
const (
	BotOnline  int32 = 0
	BotOffline int32 = 1
	BotBanned  int32 = 2
)

// BotInfo 一个授权用户名下的 bot/档案描述。
// 只放网关回推客户端需要的字段，完整主档在后端服务里。
type BotInfo struct {
	BotID     string    `bson:"bot_id" json:"bot_id"`
	AuthID    string    `bson:"auth_id" json:"auth_id"`
	Name      string    `bson:"name" json:"name"`
	Phone     string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Status    int32     `bson:"status" json:"status"`
	FaceURL   string    `bson:"face_url,omitempty" json:"face_url,omitempty"`
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Lookup 档案查询协作方：按授权标识取该用户的 bot 描述列表。
type Lookup interface {
	BotsByAuthID(ctx context.Context, authID string) ([]BotInfo, error)
}

// MongoLookup Mongo 实现，集合 bots。
type MongoLookup struct {
	coll *mongo.Collection
}

func NewMongoLookup(db *mongo.Database) *MongoLookup {
	return &MongoLookup{coll: db.Collection("bots")}
}

func (m *MongoLookup) BotsByAuthID(ctx context.Context, authID string) ([]BotInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cur, err := m.coll.Find(ctx,
		bson.M{"auth_id": authID},
		options.Find().SetSort(bson.D{{Key: "bot_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []BotInfo
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
