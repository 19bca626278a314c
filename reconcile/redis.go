package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "x402:reconciliation"

// RedisRecorder appends events to a Redis stream.
type RedisRecorder struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// RedisOption configures a RedisRecorder.
type RedisOption func(*RedisRecorder)

// WithStream sets the stream key (default DefaultStream).
func WithStream(key string) RedisOption {
	return func(r *RedisRecorder) { r.stream = key }
}

// WithMaxLen caps the stream at roughly n entries. Zero keeps every entry.
func WithMaxLen(n int64) RedisOption {
	return func(r *RedisRecorder) { r.maxLen = n }
}

// NewRedisRecorder creates a recorder backed by client.
func NewRedisRecorder(client redis.UniversalClient, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{client: client, stream: DefaultStream}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenRedis connects to the Redis server at url (redis://...) and pings it.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("reconcile: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("reconcile: ping redis: %w", err)
	}
	return client, nil
}

// Record implements Recorder.
func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"time":    strconv.FormatInt(ev.Time.Unix(), 10),
			"method":  ev.Method,
			"path":    ev.Path,
			"scheme":  ev.Scheme,
			"network": ev.Network,
			"asset":   ev.Asset,
			"amount":  ev.Amount,
			"payTo":   ev.PayTo,
			"payer":   ev.Payer,
			"nonce":   ev.Nonce,
			"intent":  ev.IntentID,
			"reason":  ev.Reason,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("reconcile: append to %s: %w", r.stream, err)
	}
	return nil
}

// Pending returns up to count recorded events, oldest first.
func (r *RedisRecorder) Pending(ctx context.Context, count int64) ([]Event, error) {
	msgs, err := r.client.XRangeN(ctx, r.stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reconcile: read %s: %w", r.stream, err)
	}
	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		str := func(k string) string {
			s, _ := m.Values[k].(string)
			return s
		}
		ev := Event{
			Method:   str("method"),
			Path:     str("path"),
			Scheme:   str("scheme"),
			Network:  str("network"),
			Asset:    str("asset"),
			Amount:   str("amount"),
			PayTo:    str("payTo"),
			Payer:    str("payer"),
			Nonce:    str("nonce"),
			IntentID: str("intent"),
			Reason:   str("reason"),
		}
		if ts, err := strconv.ParseInt(str("time"), 10, 64); err == nil {
			ev.Time = time.Unix(ts, 0)
		}
		events = append(events, ev)
	}
	return events, nil
}
