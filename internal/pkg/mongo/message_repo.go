package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetHistory(ctx context.Context, convID uint64, beforeID string, pageSize int) ([]*Message, error)
	GetByID(ctx context.Context, id string) (*Message, error)
	AppendReadReceipts(ctx context.Context, convID uint64, userID uint64, readAt time.Time) (int64, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// SaveMessage 将消息存入 MongoDB，并回填生成的 ObjectID
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ReadReceipts == nil {
		msg.ReadReceipts = []ReadReceipt{}
	}
	res, err := s.col.InsertOne(ctx, msg)
	if err != nil {
		return errors.Wrap(err, "insert message")
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

// GetHistory 历史消息查询
// beforeID 为当前页面最旧一条消息的 ID。如果是第一页，传空串。
func (s *messageRepoImpl) GetHistory(ctx context.Context, convID uint64, beforeID string, pageSize int) ([]*Message, error) {
	filter := bson.M{"conversation_id": convID}

	if beforeID != "" {
		oid, err := primitive.ObjectIDFromHex(beforeID)
		if err != nil {
			return nil, errors.Wrap(err, "invalid cursor")
		}
		filter["_id"] = bson.M{"$lt": oid}
	}

	// 按 _id 降序 (最新的在前)，限制返回条数
	findOptions := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(pageSize))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, errors.Wrap(err, "find history")
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}

	return messages, nil
}

// GetByID 精确查询
func (s *messageRepoImpl) GetByID(ctx context.Context, id string) (*Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errors.Wrap(err, "invalid message id")
	}

	var msg Message
	if err := s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AppendReadReceipts 为会话内所有"他人发送且本人未读"的消息追加回执
// 过滤条件本身排除了已含该用户回执的消息，重复调用不会产生第二条回执
func (s *messageRepoImpl) AppendReadReceipts(ctx context.Context, convID uint64, userID uint64, readAt time.Time) (int64, error) {
	filter := bson.M{
		"conversation_id":       convID,
		"sender_id":             bson.M{"$ne": userID},
		"read_receipts.user_id": bson.M{"$ne": userID},
	}
	update := bson.M{
		"$push": bson.M{"read_receipts": ReadReceipt{UserID: userID, ReadAt: readAt}},
		"$set":  bson.M{"status": "read"},
	}

	res, err := s.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, errors.Wrap(err, "append read receipts")
	}
	return res.ModifiedCount, nil
}
