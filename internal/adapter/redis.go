package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// RedisAdapter talks to a key-value store through go-redis. Keys are
// prefixed with the configured keyPrefix; returned key lists are not.
type RedisAdapter struct {
	options *redis.Options
	prefix  string

	mu     sync.Mutex
	client *redis.Client
}

// NewRedis parses the connection string and options. It does not connect.
func NewRedis(cfg config.AdapterConfig) (*RedisAdapter, error) {
	opts, err := redis.ParseURL(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parsing redis connection string: %w", err)
	}
	if _, ok := cfg.Options["db"]; ok {
		opts.DB = cfg.Int("db", opts.DB)
	}
	if p := cfg.String("password"); p != "" {
		opts.Password = p
	}
	return &RedisAdapter{options: opts, prefix: cfg.String("keyPrefix")}, nil
}

func (a *RedisAdapter) Name() string { return string(Redis) }

func (a *RedisAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	client := redis.NewClient(a.options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("pinging redis: %w", err)
	}
	a.client = client
	return nil
}

func (a *RedisAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

func (a *RedisAdapter) conn() *redis.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *RedisAdapter) HealthCheck(ctx context.Context) bool {
	client := a.conn()
	if client == nil {
		return false
	}
	if err := client.Ping(ctx).Err(); err != nil {
		log.Debug().Err(err).Msg("redis health check failed")
		return false
	}
	return true
}

func (a *RedisAdapter) key(k string) string { return a.prefix + k }

func (a *RedisAdapter) Execute(ctx context.Context, action string, params map[string]any, ac *Context) (*Result, error) {
	client := a.conn()
	if client == nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "not connected"}
	}

	start := time.Now()
	data, err := a.run(ctx, client, action, params)
	if err != nil {
		return nil, errs.NewAdapterError(a.Name(), action, err)
	}
	return &Result{Data: data, Duration: time.Since(start)}, nil
}

// KeyActions need a key; PatternActions need a pattern.
var (
	RedisKeyActions     = []string{"get", "set", "del", "exists", "incr", "hget", "hset", "hgetall", "ttl"}
	RedisPatternActions = []string{"keys", "flushPattern"}
)

func (a *RedisAdapter) run(ctx context.Context, client *redis.Client, action string, params map[string]any) (map[string]any, error) {
	key := paramString(params, "key")
	for _, ka := range RedisKeyActions {
		if ka == action && key == "" {
			return nil, fmt.Errorf("key is required")
		}
	}
	k := a.key(key)

	switch action {
	case "get":
		v, err := client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return map[string]any{"value": nil, "exists": false}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": v, "exists": true, "json": decodeBody([]byte(v))}, nil

	case "set":
		body, _, err := encodeBody(params["value"])
		if err != nil {
			return nil, fmt.Errorf("encoding value: %w", err)
		}
		ttl := time.Duration(paramInt(params, "ttl", 0)) * time.Second
		if err := client.Set(ctx, k, string(body), ttl).Err(); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	case "del":
		n, err := client.Del(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil

	case "exists":
		n, err := client.Exists(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		return map[string]any{"exists": n > 0, "count": n}, nil

	case "incr":
		n, err := client.IncrBy(ctx, k, int64(paramInt(params, "by", 1))).Result()
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": n}, nil

	case "hget":
		field := paramString(params, "field")
		if field == "" {
			return nil, fmt.Errorf("field is required")
		}
		v, err := client.HGet(ctx, k, field).Result()
		if errors.Is(err, redis.Nil) {
			return map[string]any{"value": nil, "exists": false}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": v, "exists": true}, nil

	case "hset":
		fields := paramMap(params, "fields")
		if fields == nil {
			field := paramString(params, "field")
			if field == "" {
				return nil, fmt.Errorf("field or fields is required")
			}
			fields = map[string]any{field: params["value"]}
		}
		values := make([]any, 0, len(fields)*2)
		for f, v := range fields {
			b, _, err := encodeBody(v)
			if err != nil {
				return nil, fmt.Errorf("encoding field %s: %w", f, err)
			}
			values = append(values, f, string(b))
		}
		n, err := client.HSet(ctx, k, values...).Result()
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil

	case "hgetall":
		m, err := client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		value := make(map[string]any, len(m))
		for f, v := range m {
			value[f] = v
		}
		return map[string]any{"value": value, "count": len(m)}, nil

	case "ttl":
		d, err := client.TTL(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		ttl := int64(-1)
		if d > 0 {
			ttl = int64(d / time.Second)
		} else if d == -2 {
			ttl = -2
		}
		return map[string]any{"ttl": ttl}, nil

	case "keys":
		pattern := paramString(params, "pattern")
		if pattern == "" {
			return nil, fmt.Errorf("pattern is required")
		}
		keys, err := a.scan(ctx, client, a.key(pattern))
		if err != nil {
			return nil, err
		}
		out := make([]any, len(keys))
		for i, key := range keys {
			out[i] = strings.TrimPrefix(key, a.prefix)
		}
		return map[string]any{"keys": out, "count": len(out)}, nil

	case "flushPattern":
		pattern := paramString(params, "pattern")
		if pattern == "" {
			return nil, fmt.Errorf("pattern is required")
		}
		n, err := a.deleteByPattern(ctx, client, a.key(pattern))
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": n}, nil

	default:
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "unknown action"}
	}
}

func (a *RedisAdapter) scan(ctx context.Context, client *redis.Client, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (a *RedisAdapter) deleteByPattern(ctx context.Context, client *redis.Client, pattern string) (int64, error) {
	keys, err := a.scan(ctx, client, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return client.Del(ctx, keys...).Result()
}
