package sessions

import (
	"anonfeedback/models"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisUploadPrefix = "feedback:upload:"

// Each session is a hash holding the reserved number (for compare-and-delete)
// and the JSON encoded session.
var (
	takeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "number") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	putIfAbsentScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "number", ARGV[1], "data", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1`)
)

// RedisStore shares sessions between gateway processes.
type RedisStore struct {
	Client    *redis.Client
	Retention time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string, retention time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return &RedisStore{Client: rdb, Retention: retention}, nil
}

func redisUploadKey(userID int64) string {
	return redisUploadPrefix + strconv.FormatInt(userID, 10)
}

func decodeSession(raw string) (*models.PendingUploadSession, error) {
	var sess models.PendingUploadSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("corrupt upload session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (*models.PendingUploadSession, error) {
	raw, err := s.Client.HGet(ctx, redisUploadKey(userID), "data").Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return decodeSession(raw)
}

func (s *RedisStore) Put(ctx context.Context, sess *models.PendingUploadSession) (*models.PendingUploadSession, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	key := redisUploadKey(sess.RealUserID)

	var prevCmd *redis.StringCmd
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prevCmd = pipe.HGet(ctx, key, "data")
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "number", sess.DisplayNumber, "data", string(data))
		pipe.PExpire(ctx, key, s.Retention)
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}

	raw, err := prevCmd.Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return decodeSession(raw)
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, sess *models.PendingUploadSession) (bool, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return false, err
	}
	n, err := putIfAbsentScript.Run(ctx, s.Client, []string{redisUploadKey(sess.RealUserID)},
		sess.DisplayNumber, string(data), s.Retention.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Take(ctx context.Context, userID, displayNumber int64) (bool, error) {
	n, err := takeScript.Run(ctx, s.Client, []string{redisUploadKey(userID)}, displayNumber).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*models.PendingUploadSession, error) {
	var out []*models.PendingUploadSession
	iter := s.Client.Scan(ctx, 0, redisUploadPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.Client.HGet(ctx, iter.Val(), "data").Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, err
		}
		sess, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, iter.Err()
}
