package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-redis/redis/v8"
	Mt "github.com/maroda/blinkwise/types"
)

// RedisStore keeps one hash per device: field = minute key, value = count.
// HINCRBY is atomic on the server, which gives the additive merge for free.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	slog.Info("RedisStore connected", slog.String("addr", addr))
	return &RedisStore{Client: client, Prefix: "blinkwise"}, nil
}

func (rs *RedisStore) countsKey(deviceID string) string {
	return rs.Prefix + ":blink_data:" + deviceID
}

func (rs *RedisStore) Increment(ctx context.Context, deviceID, minuteKey string, delta uint64) error {
	if err := validBucket(deviceID, minuteKey); err != nil {
		return err
	}
	if err := rs.Client.HIncrBy(ctx, rs.countsKey(deviceID), minuteKey, int64(delta)).Err(); err != nil {
		return fmt.Errorf("redis increment: %w", err)
	}
	return nil
}

// Range reads the whole device hash and filters locally.
// One hash per device holds at most 1440 fields per day of use.
func (rs *RedisStore) Range(ctx context.Context, deviceID, fromKey, toKey string) ([]Mt.Counter, error) {
	all, err := rs.Client.HGetAll(ctx, rs.countsKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range: %w", err)
	}

	var out []Mt.Counter
	for k, v := range all {
		if !inRange(k, fromKey, toKey) {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			slog.Warn("RedisStore skipping malformed count",
				slog.String("minute", k),
				slog.String("value", v))
			continue
		}
		out = append(out, Mt.Counter{DeviceID: deviceID, MinuteKey: k, BlinkCount: n})
	}
	sortCounters(out)
	return out, nil
}

func (rs *RedisStore) Last(ctx context.Context, deviceID string, n int) ([]Mt.Counter, error) {
	all, err := rs.Range(ctx, deviceID, "", "")
	if err != nil {
		return nil, err
	}
	return lastN(all, n), nil
}

func (rs *RedisStore) Close() error { return rs.Client.Close() }
func (rs *RedisStore) Type() string { return "Redis" }

// RedisThresholds stores the detection threshold per device,
// the redis counterpart of a device document.
type RedisThresholds struct {
	Client   *redis.Client
	Prefix   string
	DeviceID string
	Default  int
}

func (rt *RedisThresholds) key() string {
	return rt.Prefix + ":device:" + rt.DeviceID
}

// LoadThreshold returns Default when the device has none stored
func (rt *RedisThresholds) LoadThreshold(ctx context.Context) (int, error) {
	v, err := rt.Client.HGet(ctx, rt.key(), "threshold").Int()
	if errors.Is(err, redis.Nil) {
		return rt.Default, nil
	}
	if err != nil {
		return rt.Default, fmt.Errorf("redis load threshold: %w", err)
	}
	return v, nil
}

func (rt *RedisThresholds) SaveThreshold(ctx context.Context, threshold int) error {
	if err := rt.Client.HSet(ctx, rt.key(), "threshold", threshold).Err(); err != nil {
		return fmt.Errorf("redis save threshold: %w", err)
	}
	return nil
}
