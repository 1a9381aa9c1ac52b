package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// MongoAdapter runs document-store operations with the official driver.
// Results are converted to plain maps and slices; ObjectIDs become hex.
type MongoAdapter struct {
	config   config.AdapterConfig
	database string

	mu     sync.Mutex
	client *mongo.Client
}

// NewMongo creates an unconnected MongoDB adapter. The database defaults
// to "test".
func NewMongo(cfg config.AdapterConfig) *MongoAdapter {
	db := cfg.String("database")
	if db == "" {
		db = "test"
	}
	return &MongoAdapter{config: cfg, database: db}
}

func (a *MongoAdapter) Name() string { return string(MongoDB) }

func (a *MongoAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	opts := options.Client().ApplyURI(a.config.ConnectionString)
	if n := a.config.Int("poolSize", 0); n > 0 {
		opts.SetMaxPoolSize(uint64(n))
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("pinging mongodb: %w", err)
	}
	a.client = client
	return nil
}

func (a *MongoAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Disconnect(ctx)
	a.client = nil
	return err
}

func (a *MongoAdapter) conn() *mongo.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *MongoAdapter) HealthCheck(ctx context.Context) bool {
	client := a.conn()
	if client == nil {
		return false
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		log.Debug().Err(err).Msg("mongodb health check failed")
		return false
	}
	return true
}

func (a *MongoAdapter) Execute(ctx context.Context, action string, params map[string]any, ac *Context) (*Result, error) {
	client := a.conn()
	if client == nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "not connected"}
	}
	name, err := requireString(a.Name(), action, params, "collection")
	if err != nil {
		return nil, err
	}
	coll := client.Database(a.database).Collection(name)

	start := time.Now()
	data, err := a.run(ctx, coll, action, params)
	if err != nil {
		return nil, errs.NewAdapterError(a.Name(), action, err)
	}
	return &Result{Data: data, Duration: time.Since(start)}, nil
}

func (a *MongoAdapter) run(ctx context.Context, coll *mongo.Collection, action string, params map[string]any) (map[string]any, error) {
	filter := toFilter(paramMap(params, "filter"))

	switch action {
	case "insertOne":
		doc := paramMap(params, "document")
		if doc == nil {
			return nil, fmt.Errorf("document is required")
		}
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return nil, err
		}
		return map[string]any{"insertedId": plain(res.InsertedID)}, nil

	case "insertMany":
		docs := paramList(params, "documents")
		if len(docs) == 0 {
			return nil, fmt.Errorf("documents is required")
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, err
		}
		ids := make([]any, len(res.InsertedIDs))
		for i, id := range res.InsertedIDs {
			ids[i] = plain(id)
		}
		return map[string]any{"insertedIds": ids, "insertedCount": len(ids)}, nil

	case "findOne":
		opts := options.FindOne()
		if s := paramMap(paramMap(params, "options"), "sort"); s != nil {
			opts.SetSort(s)
		}
		var doc bson.M
		err := coll.FindOne(ctx, filter, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return map[string]any{"document": nil, "found": false}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"document": plain(doc), "found": true}, nil

	case "find":
		opts := options.Find()
		o := paramMap(params, "options")
		if s := paramMap(o, "sort"); s != nil {
			opts.SetSort(s)
		}
		if n := paramInt(o, "limit", 0); n > 0 {
			opts.SetLimit(int64(n))
		}
		cur, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		return decodeCursor(ctx, cur)

	case "updateOne", "updateMany":
		update := paramMap(params, "update")
		if update == nil {
			return nil, fmt.Errorf("update is required")
		}
		var (
			res *mongo.UpdateResult
			err error
		)
		if action == "updateOne" {
			res, err = coll.UpdateOne(ctx, filter, update)
		} else {
			res, err = coll.UpdateMany(ctx, filter, update)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"matchedCount":  res.MatchedCount,
			"modifiedCount": res.ModifiedCount,
			"upsertedId":    plain(res.UpsertedID),
		}, nil

	case "deleteOne", "deleteMany":
		var (
			res *mongo.DeleteResult
			err error
		)
		if action == "deleteOne" {
			res, err = coll.DeleteOne(ctx, filter)
		} else {
			res, err = coll.DeleteMany(ctx, filter)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"deletedCount": res.DeletedCount}, nil

	case "count":
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil

	case "aggregate":
		pipeline := paramList(params, "pipeline")
		if pipeline == nil {
			pipeline = []any{}
		}
		cur, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, err
		}
		return decodeCursor(ctx, cur)

	default:
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "unknown action"}
	}
}

func decodeCursor(ctx context.Context, cur *mongo.Cursor) (map[string]any, error) {
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = plain(d)
	}
	return map[string]any{"documents": out, "count": len(out)}, nil
}

// toFilter turns a 24-character hex _id into an ObjectID.
func toFilter(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	if s, ok := m["_id"].(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			out := make(map[string]any, len(m))
			for k, v := range m {
				out[k] = v
			}
			out["_id"] = oid
			return out
		}
	}
	return m
}

// plain converts driver types into maps, slices and primitives.
func plain(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = plain(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return val.String()
	case int32:
		return int64(val)
	}
	return v
}
