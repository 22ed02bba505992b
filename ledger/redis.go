package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "gg:"
	defaultRedisTTL    = 48 * time.Hour
)

// appendBlock adds a block marker and extends the key TTL to ARGV[3]
// milliseconds, never shortening it. Several blocks share one key.
var appendBlock = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local want = tonumber(ARGV[3])
local cur = redis.call('PTTL', KEYS[1])
if cur < want then
	redis.call('PEXPIRE', KEYS[1], want)
end
return 1
`)

// RedisOptions configures a Redis ledger.
type RedisOptions struct {
	// Prefix namespaces every key. Default "gg:".
	Prefix string
	// TTL bounds how long attempt keys outlive their last write. It should
	// cover the longest window plus the longest cooldown. Default 48h.
	TTL time.Duration
}

// Redis stores attempts in sorted sets scored by timestamp (microseconds).
// Each record is written to its operation's set and to the all-operations
// set so cross-operation counts stay a single ZCOUNT.
//
// Block markers live in separate sets scored by BlockedUntil.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a ledger backed by client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultRedisTTL
	}
	return &Redis{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

func (r *Redis) attemptKey(axis Axis, operation string, outcome Outcome, value string) string {
	return r.prefix + "a:" + string(axis) + ":" + operation + ":" + string(outcome) + ":" + value
}

func (r *Redis) blockKey(axis Axis, operation, value string) string {
	return r.prefix + "b:" + string(axis) + ":" + operation + ":" + value
}

func (r *Redis) Append(ctx context.Context, rec Record) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("%w: redis client is nil", ErrUnavailable)
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	if rec.IsBlock() {
		ttl := r.ttl
		if d := rec.BlockedUntil.Sub(rec.Timestamp); d > ttl {
			ttl = d
		}
		err := appendBlock.Run(ctx, r.client,
			[]string{r.blockKey(rec.Axis, rec.Operation, rec.AxisValue)},
			strconv.FormatInt(rec.BlockedUntil.UnixMicro(), 10),
			rec.ID,
			ttl.Milliseconds(),
		).Err()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		z := redis.Z{Score: float64(rec.Timestamp.UnixMicro()), Member: rec.ID}
		key := r.attemptKey(rec.Axis, rec.Operation, rec.Outcome, rec.AxisValue)
		pipe.ZAdd(ctx, key, z)
		pipe.Expire(ctx, key, r.ttl)
		if rec.Operation != AnyOperation {
			all := r.attemptKey(rec.Axis, AnyOperation, rec.Outcome, rec.AxisValue)
			pipe.ZAdd(ctx, all, z)
			pipe.Expire(ctx, all, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) outcomeKeys(q Query) []string {
	if q.Outcome != "" {
		return []string{r.attemptKey(q.Axis, q.Operation, q.Outcome, q.Value)}
	}
	return []string{
		r.attemptKey(q.Axis, q.Operation, OutcomeFailure, q.Value),
		r.attemptKey(q.Axis, q.Operation, OutcomeSuccess, q.Value),
	}
}

func (r *Redis) CountSince(ctx context.Context, q Query) (int, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("%w: redis client is nil", ErrUnavailable)
	}

	since := strconv.FormatInt(q.Since.UnixMicro(), 10)
	keys := r.outcomeKeys(q)
	cmds := make([]*redis.IntCmd, 0, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			cmds = append(cmds, pipe.ZCount(ctx, key, since, "+inf"))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	total := 0
	for _, cmd := range cmds {
		total += int(cmd.Val())
	}
	return total, nil
}

func (r *Redis) TimestampsSince(ctx context.Context, q Query) ([]time.Time, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrUnavailable)
	}

	by := &redis.ZRangeBy{Min: strconv.FormatInt(q.Since.UnixMicro(), 10), Max: "+inf"}
	keys := r.outcomeKeys(q)
	cmds := make([]*redis.ZSliceCmd, 0, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			cmds = append(cmds, pipe.ZRangeByScoreWithScores(ctx, key, by))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out []time.Time
	for _, cmd := range cmds {
		for _, z := range cmd.Val() {
			out = append(out, time.UnixMicro(int64(z.Score)))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *Redis) FindActiveBlock(ctx context.Context, axis Axis, value, operation string, now time.Time) (*time.Time, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrUnavailable)
	}

	keys := []string{r.blockKey(axis, operation, value)}
	if operation != AnyOperation {
		keys = append(keys, r.blockKey(axis, AnyOperation, value))
	}

	by := &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(now.UnixMicro(), 10),
		Max:   "+inf",
		Count: 1,
	}
	cmds := make([]*redis.ZSliceCmd, 0, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			cmds = append(cmds, pipe.ZRevRangeByScoreWithScores(ctx, key, by))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var latest *time.Time
	for _, cmd := range cmds {
		for _, z := range cmd.Val() {
			until := time.UnixMicro(int64(z.Score))
			if latest == nil || until.After(*latest) {
				latest = &until
			}
		}
	}
	return latest, nil
}
