package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/comigor/assistant-go/internal/config"
	"github.com/comigor/assistant-go/internal/logger"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCollection     = "conversations"
)

type conversationDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"userId"`
	Messages  []messageDoc       `bson:"messages"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type messageDoc struct {
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

// MongoStore keeps one document per conversation with the messages embedded.
// It owns the client connection pool; Close disconnects it.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	opts   options
}

var _ Store = (*MongoStore)(nil)

// OpenMongo connects a pooled client, checks the server is reachable and
// ensures the list index exists.
func OpenMongo(ctx context.Context, cfg config.StoreConfig, opts ...Option) (*MongoStore, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	clientOpts := mongoOptions.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetConnectTimeout(cfg.ConnectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	dbName := cfg.Database
	if cs, err := connstring.ParseAndValidate(cfg.URI); err == nil && cs.Database != "" {
		dbName = cs.Database
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(cfg.Collection),
		opts:   buildOptions(opts),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.L.Info("mongo conversation store initialized", "database", dbName, "collection", cfg.Collection)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create conversation index: %w", err)
	}
	return nil
}

// BSON dates carry millisecond precision; normalizing up front keeps returned
// values equal to stored ones.
func (s *MongoStore) now() time.Time {
	return bsonTime(s.opts.now())
}

func bsonTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (s *MongoStore) Create(ctx context.Context, userID string) (*Conversation, error) {
	now := s.now()
	doc := conversationDoc{
		UserID:    userID,
		Messages:  []messageDoc{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	doc.ID = id
	return doc.toConversation(), nil
}

func (s *MongoStore) Append(ctx context.Context, id string, msg Message) (*Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	update := bson.M{
		"$push": bson.M{"messages": messageDoc{
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: bsonTime(msg.Timestamp),
		}},
		"$set": bson.M{"updatedAt": s.now()},
	}

	var doc conversationDoc
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update,
		mongoOptions.FindOneAndUpdate().SetReturnDocument(mongoOptions.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toConversation(), nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) Latest(ctx context.Context, userID string) (*Conversation, error) {
	return s.findOne(ctx, bson.M{"userId": userID},
		mongoOptions.FindOne().SetSort(recentFirst))
}

var recentFirst = bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts ...*mongoOptions.FindOneOptions) (*Conversation, error) {
	var doc conversationDoc
	err := s.coll.FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toConversation(), nil
}

func (s *MongoStore) ListByUser(ctx context.Context, userID string) ([]Conversation, error) {
	cur, err := s.coll.Find(ctx, bson.M{"userId": userID}, mongoOptions.Find().SetSort(recentFirst))
	if err != nil {
		return nil, err
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]Conversation, 0, len(docs))
	for i := range docs {
		out = append(out, *docs[i].toConversation())
	}
	return out, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// Close disconnects the pool, waiting for in-use connections up to ctx.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (d *conversationDoc) toConversation() *Conversation {
	conv := &Conversation{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Messages:  make([]Message, 0, len(d.Messages)),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	for _, m := range d.Messages {
		conv.Messages = append(conv.Messages, Message{
			Role:      Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC(),
		})
	}
	return conv
}
