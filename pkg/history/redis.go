package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/3leaps/snapbridge/pkg/job"
)

const redisKeyPrefix = "snapbridge:history"

// RedisHistory stores runs in Redis so several service instances share one
// history.
//
// Each run is a JSON string; sorted sets per kind and per job index the run
// ids by start time. Equal scores order by member, so ties come back by
// descending run id.
type RedisHistory struct {
	client *redis.Client
}

// NewRedisHistory connects to redisURL (redis://host:port/db) and pings it.
func NewRedisHistory(ctx context.Context, redisURL string) (*RedisHistory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisHistory{client: client}, nil
}

func runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", redisKeyPrefix, runID)
}

func kindIndexKey(kind job.Kind) string {
	return fmt.Sprintf("%s:kind:%s", redisKeyPrefix, kind)
}

func jobIndexKey(kind job.Kind, key string) string {
	return fmt.Sprintf("%s:job:%s:%s", redisKeyPrefix, kind, key)
}

func (h *RedisHistory) RecordRun(ctx context.Context, run *Run) error {
	if err := run.validate(); err != nil {
		return err
	}
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	member := redis.Z{Score: float64(sortTime(*run).UnixMicro()), Member: run.RunID}
	pipe := h.client.TxPipeline()
	pipe.Set(ctx, runKey(run.RunID), b, 0)
	pipe.ZAdd(ctx, kindIndexKey(run.Kind), member)
	pipe.ZAdd(ctx, jobIndexKey(run.Kind, run.Key), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (h *RedisHistory) LastRun(ctx context.Context, kind job.Kind, key string) (*Run, error) {
	ids, err := h.client.ZRevRange(ctx, jobIndexKey(kind, key), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	b, err := h.client.Get(ctx, runKey(ids[0])).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(b, &run); err != nil {
		return nil, fmt.Errorf("parse run record: %w", err)
	}
	return &run, nil
}

func (h *RedisHistory) ListRuns(ctx context.Context, kind job.Kind, start, size int) ([]Run, error) {
	if err := checkPage(start, size); err != nil {
		return nil, err
	}

	ids, err := h.client.ZRevRange(ctx, kindIndexKey(kind), int64(start), int64(start+size-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	vals, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]Run, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("run %s is indexed but missing", ids[i])
		}
		var run Run
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			return nil, fmt.Errorf("parse run record: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (h *RedisHistory) Close() error {
	return h.client.Close()
}
