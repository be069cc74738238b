package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix = "docworld:doc:"
	redisIndexKey  = "docworld:docs"
)

// Creates the document hash only if the key is absent, and indexes it.
var createIfAbsent = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'content', ARGV[1], 'created_at', ARGV[2], 'updated_at', ARGV[2])
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
	return 1
end
return 0
`)

// Redis keeps each document in a hash plus a sorted index by update time.
type Redis struct {
	client *redis.Client
}

// NewRedis accepts a redis:// URL or a bare host:port address.
func NewRedis(ctx context.Context, dsn string) (*Redis, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		if strings.Contains(dsn, "://") {
			return nil, err
		}
		opts = &redis.Options{Addr: dsn}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable("connect", err)
	}

	glog.Infof("Connected to Redis at %s", opts.Addr)
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func redisDocKey(roomID string) string {
	return redisDocPrefix + roomID
}

func (r *Redis) FindOrCreate(ctx context.Context, roomID string) (*Document, error) {
	now := time.Now().UTC()
	err := createIfAbsent.Run(ctx, r.client,
		[]string{redisDocKey(roomID), redisIndexKey},
		string(EmptyContent), now.Format(time.RFC3339Nano), now.UnixMilli(), roomID,
	).Err()
	if err != nil {
		return nil, unavailable("find or create", err)
	}
	doc, err := r.Get(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil, unavailable("find or create", err)
	}
	return doc, err
}

func (r *Redis) Get(ctx context.Context, roomID string) (*Document, error) {
	fields, err := r.client.HGetAll(ctx, redisDocKey(roomID)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return &Document{
		RoomID:    roomID,
		Content:   json.RawMessage(fields["content"]),
		CreatedAt: parseRedisTime(fields["created_at"]),
		UpdatedAt: parseRedisTime(fields["updated_at"]),
	}, nil
}

func (r *Redis) Save(ctx context.Context, roomID string, content json.RawMessage) error {
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	key := redisDocKey(roomID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "content", string(emptyIfNil(content)), "updated_at", stamp)
		pipe.HSetNX(ctx, key, "created_at", stamp)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(now.UnixMilli()), Member: roomID})
		return nil
	})
	if err != nil {
		return unavailable("save", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, limit, offset int) ([]Document, error) {
	ids, err := r.client.ZRevRange(ctx, redisIndexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, redisDocKey(id), "created_at", "updated_at")
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list", err)
	}

	docs := make([]Document, 0, len(ids))
	for i, id := range ids {
		vals := cmds[i].Val()
		doc := Document{RoomID: id}
		if len(vals) == 2 {
			if s, ok := vals[0].(string); ok {
				doc.CreatedAt = parseRedisTime(s)
			}
			if s, ok := vals[1].(string); ok {
				doc.UpdatedAt = parseRedisTime(s)
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, unavailable("count", err)
	}
	return int(n), nil
}

func parseRedisTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
