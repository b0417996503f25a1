// Package ratelimit implements the shared rate limiter service: sliding- and
// fixed-window counters in redis behind a small HTTP check endpoint.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/voicepipe/voicepipe/errors"
)

// Algorithm selects the counting strategy for a check.
type Algorithm string

const (
	// AlgorithmSliding counts requests in a rolling window ending now.
	// No boundary-reset burst, at the cost of a sorted set per key.
	AlgorithmSliding Algorithm = "sliding"

	// AlgorithmFixed counts requests per aligned window bucket. Cheaper,
	// but permits up to 2x the limit across a boundary.
	AlgorithmFixed Algorithm = "fixed"
)

// Defaults applied when a check request omits the corresponding field.
const (
	DefaultLimit    = 5
	DefaultWindowMs = 10_000
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool  `json:"allow"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	// Reset is the unix-milliseconds time when the window frees up.
	Reset int64 `json:"reset"`
	// RetryAfter is seconds until retry is worthwhile; omitted when allowed.
	RetryAfter int64 `json:"retryAfter,omitempty"`
}

// Limiter evaluates checks against redis. All keys are namespaced so several
// services can share one redis database without collisions.
type Limiter struct {
	rdb       *redis.Client
	namespace string
	now       func() time.Time // swappable for tests
}

// NewLimiter creates a limiter with the given key namespace prefix.
func NewLimiter(rdb *redis.Client, namespace string) *Limiter {
	return &Limiter{rdb: rdb, namespace: namespace, now: time.Now}
}

func (l *Limiter) key(identifier string) string {
	return l.namespace + identifier
}

// slidingWindowScript atomically prunes, counts, and conditionally admits one
// request. Interleaved checks for the same key serialize inside redis, so the
// count can never admit more than the limit.
//
// KEYS[1] = counter key
// ARGV[1] = now (unix ms), ARGV[2] = window ms, ARGV[3] = limit, ARGV[4] = member
//
// Returns {allowed, count_after, oldest_score_or_-1}. The oldest score is
// re-read after a conditional ZADD so reset always reflects the member that
// actually anchors the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local score = -1
	if oldest[2] then
		score = math.floor(tonumber(oldest[2]))
	end
	return {0, count, score}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window + 60000)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, math.floor(tonumber(oldest[2]))}
`)

// Check evaluates one request against the identifier's counter and, when
// admitted, records it. Denied requests are never recorded.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int64, windowMs int64, algo Algorithm) (*Decision, error) {
	switch algo {
	case AlgorithmSliding:
		return l.checkSliding(ctx, identifier, limit, windowMs)
	case AlgorithmFixed:
		return l.checkFixed(ctx, identifier, limit, windowMs)
	default:
		return nil, errors.Newf("unknown algorithm: %s", algo)
	}
}

func (l *Limiter) checkSliding(ctx context.Context, identifier string, limit, windowMs int64) (*Decision, error) {
	now := l.now().UnixMilli()
	// Member encodes the timestamp for debuggability; the uuid keeps two
	// requests in the same millisecond distinct.
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{l.key(identifier)},
		now, windowMs, limit, member,
	).Int64Slice()
	if err != nil {
		return nil, errors.Wrap(err, "sliding window check failed")
	}
	if len(res) != 3 {
		return nil, errors.Newf("sliding window script returned %d values", len(res))
	}

	allowed := res[0] == 1
	count := res[1]

	// Window frees up when the oldest recorded request ages out.
	reset := now + windowMs
	if oldest := res[2]; oldest >= 0 {
		reset = oldest + windowMs
	}

	d := &Decision{
		Allowed: allowed,
		Limit:   limit,
		Reset:   reset,
	}
	if allowed {
		d.Remaining = limit - count
		return d, nil
	}
	d.RetryAfter = retryAfterSeconds(reset, now)
	return d, nil
}

func (l *Limiter) checkFixed(ctx context.Context, identifier string, limit, windowMs int64) (*Decision, error) {
	now := l.now().UnixMilli()
	bucket := now / windowMs
	key := l.namespace + "fw:" + identifier + ":" + strconv.FormatInt(bucket, 10)
	reset := (bucket + 1) * windowMs

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, time.Duration(windowMs)*time.Millisecond)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "fixed window check failed")
	}

	count := incr.Val()
	d := &Decision{
		Allowed: count <= limit,
		Limit:   limit,
		Reset:   reset,
	}
	if d.Allowed {
		d.Remaining = limit - count
	} else {
		d.RetryAfter = retryAfterSeconds(reset, now)
	}
	return d, nil
}

// retryAfterSeconds rounds up so clients never retry a moment too early.
func retryAfterSeconds(reset, now int64) int64 {
	delta := reset - now
	if delta <= 0 {
		return 1
	}
	return (delta + 999) / 1000
}
