package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"PulseCampaign/internal/models"
)

const defaultPrefix = "pulsecampaign"

// Redis stores job records as JSON strings with a TTL and tracks running
// jobs in a set for crash-resume.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL sets how long a job record lives after its last write.
// Zero or negative keeps records until Redis evicts them.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// NewRedis wraps an open client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultPrefix,
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenRedis parses url, connects and pings, retrying with exponential
// backoff up to attempts times.
func OpenRedis(ctx context.Context, url string, attempts int) (redis.UniversalClient, error) {
	if url == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(attempts-1, 0)))
	if err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(b, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

func (r *Redis) jobKey(id string) string { return r.prefix + ":job:" + id }

func (r *Redis) activeKey() string { return r.prefix + ":jobs:active" }

func (r *Redis) expiration() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	return r.ttl
}

// createScript writes the record only if absent and registers it in the
// active set. A failed SADD deletes the record again so neither write
// survives alone.
var createScript = redis.NewScript(`
local ok
if tonumber(ARGV[2]) > 0 then
	ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
else
	ok = redis.call('SET', KEYS[1], ARGV[1], 'NX')
end
if not ok then
	return 0
end
if ARGV[3] == '1' then
	local res = redis.pcall('SADD', KEYS[2], ARGV[4])
	if type(res) == 'table' and res.err then
		redis.call('DEL', KEYS[1])
		return res
	end
end
return 1
`)

// Create stores a new job and, when it is running, adds it to the active
// set in one atomic step.
func (r *Redis) Create(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	active := "0"
	if job.InProgress {
		active = "1"
	}

	created, err := createScript.Run(ctx, r.client,
		[]string{r.jobKey(job.ID), r.activeKey()},
		data, r.expiration().Milliseconds(), active, job.ID,
	).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return models.ErrJobExists
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, id string) (*models.Job, error) {
	data, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Save overwrites the record and refreshes its TTL in one transaction.
func (r *Redis) Save(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, r.expiration())
		if job.InProgress {
			pipe.SAdd(ctx, r.activeKey(), job.ID)
		} else {
			pipe.SRem(ctx, r.activeKey(), job.ID)
		}
		return nil
	})
	return err
}

// ListActive returns running job ids. Ids whose record has expired are
// pruned from the set.
func (r *Redis) ListActive(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, err
	}

	live := ids[:0]
	for _, id := range ids {
		n, err := r.client.Exists(ctx, r.jobKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = r.client.SRem(ctx, r.activeKey(), id).Err()
			continue
		}
		live = append(live, id)
	}
	sort.Strings(live)
	return live, nil
}
