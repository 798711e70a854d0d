package presence

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	onlineKey = "presence:online"
	connsKey  = "presence:conns"
)

// Redis shares presence between processes: a hash of connection counts and
// the set of participants with a positive count.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(addr string) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Redis{rdb: rdb}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Online(ctx context.Context, id string) error {
	n, err := r.rdb.HIncrBy(ctx, connsKey, id, 1).Result()
	if err != nil {
		return errors.Wrapf(err, "presence online %s", id)
	}
	if n == 1 {
		if err := r.rdb.SAdd(ctx, onlineKey, id).Err(); err != nil {
			return errors.Wrapf(err, "presence online %s", id)
		}
	}
	return nil
}

func (r *Redis) Offline(ctx context.Context, id string) error {
	n, err := r.rdb.HIncrBy(ctx, connsKey, id, -1).Result()
	if err != nil {
		return errors.Wrapf(err, "presence offline %s", id)
	}
	if n > 0 {
		return nil
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, connsKey, id)
		p.SRem(ctx, onlineKey, id)
		return nil
	})
	return errors.Wrapf(err, "presence offline %s", id)
}

func (r *Redis) IsOnline(ctx context.Context, id string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, onlineKey, id).Result()
	return ok, errors.Wrapf(err, "presence of %s", id)
}

func (r *Redis) List(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, onlineKey).Result()
	return ids, errors.Wrap(err, "presence list")
}
