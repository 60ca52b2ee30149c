package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notifier delivers checkout confirmations. Delivery failures never undo a checkout.
type Notifier interface {
	NotifyCheckout(ctx context.Context, n CheckoutNotice) error
}

// LogNotifier writes confirmations to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier uses slog.Default when logger is nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) NotifyCheckout(ctx context.Context, n CheckoutNotice) error {
	l.logger.InfoContext(ctx, "checkout confirmation",
		"reservation_id", n.ReservationID,
		"to_email", n.ToEmail,
		"pickup_date", n.PickupDate,
		"due_date", n.DueDate,
		"book_list", n.BookList,
	)
	return nil
}

// RedisNotifier appends confirmations to a redis stream for a mail worker to consume.
type RedisNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisNotifierConfig configures a RedisNotifier.
type RedisNotifierConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// NewRedisNotifier connects lazily to the redis server at cfg.Addr.
func NewRedisNotifier(cfg RedisNotifierConfig) (*RedisNotifier, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	return NewRedisNotifierFromClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewRedisNotifierFromClient wraps an existing client.
func NewRedisNotifierFromClient(client *redis.Client, stream string, maxLen int64) *RedisNotifier {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "booknest:checkouts"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisNotifier{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisNotifier) NotifyCheckout(ctx context.Context, n CheckoutNotice) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"message_id":     uuid.NewString(),
			"reservation_id": n.ReservationID,
			"to_name":        n.ToName,
			"to_email":       n.ToEmail,
			"pickup_date":    n.PickupDate,
			"due_date":       n.DueDate,
			"duration":       strconv.Itoa(n.Duration),
			"book_list":      n.BookList,
			"created_at":     time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish checkout %s: %w", n.ReservationID, err)
	}
	return nil
}

// Close closes the redis client.
func (r *RedisNotifier) Close() error { return r.client.Close() }
