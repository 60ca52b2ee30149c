package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Keys of the persisted records. Each is overwritten wholesale on every sync.
const (
	RecordCart              = "cart"
	RecordWishlist          = "wishlist"
	RecordUserProfile       = "userProfile"
	RecordDisplayPreference = "displayPreference"
	RecordHistory           = "history"
	RecordLoans             = "loans"
)

// RecordKeys lists the persisted records in write order.
var RecordKeys = []string{
	RecordCart,
	RecordWishlist,
	RecordUserProfile,
	RecordDisplayPreference,
	RecordHistory,
	RecordLoans,
}

var (
	// ErrRecordNotFound is returned by a RecordStore for a key that was never written.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordCorrupt is returned when a stored record fails its integrity check.
	ErrRecordCorrupt = errors.New("record is corrupt")

	// ErrSyncClosed is returned by Flush after Close.
	ErrSyncClosed = errors.New("persistence sync is closed")
)

// RecordStore is durable key-value storage for JSON records.
type RecordStore interface {
	PutRecord(ctx context.Context, key string, value []byte) error
	GetRecord(ctx context.Context, key string) ([]byte, error)
}

// Record is one persisted key and its JSON value.
type Record struct {
	Key   string
	Value []byte
}

// EncodeRecords serializes the persisted subset of s.
func EncodeRecords(s State) ([]Record, error) {
	values := map[string]any{
		RecordCart:              nonNil(s.Cart),
		RecordWishlist:          nonNil(s.Wishlist),
		RecordUserProfile:       s.User,
		RecordDisplayPreference: s.DisplayPreference,
		RecordHistory:           nonNil(s.History),
		RecordLoans:             s.Loans(),
	}

	records := make([]Record, 0, len(RecordKeys))
	for _, key := range RecordKeys {
		data, err := json.Marshal(values[key])
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", key, err)
		}
		records = append(records, Record{Key: key, Value: data})
	}
	return records, nil
}

func nonNil(items []CatalogItem) []CatalogItem {
	if items == nil {
		return []CatalogItem{}
	}
	return items
}

// PersistenceSync writes state snapshots to a RecordStore in the background.
// A single worker writes snapshots in the order they were enqueued. Every record is
// overwritten wholesale, so a snapshot still waiting when a newer one arrives is
// replaced by it and Enqueue never waits on the store.
// Write failures are retried, then logged and counted; they never affect the state.
type PersistenceSync struct {
	store        RecordStore
	logger       *slog.Logger
	retry        retryConfig
	writeTimeout time.Duration

	mu      sync.Mutex
	wake    *sync.Cond
	pending *State
	waiters []chan struct{}
	closed  bool
	done    chan struct{}

	written    atomic.Int64
	failures   atomic.Int64
	superseded atomic.Int64
}

// SyncOption configures a PersistenceSync.
type SyncOption func(*PersistenceSync) error

// WithSyncLogger sets the logger used for write failures.
func WithSyncLogger(logger *slog.Logger) SyncOption {
	return func(p *PersistenceSync) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// WithRetry configures how failed writes are retried.
func WithRetry(options ...RetryOption) SyncOption {
	return func(p *PersistenceSync) error {
		c, err := newRetryConfig(options...)
		if err != nil {
			return err
		}
		p.retry = c
		return nil
	}
}

// WithWriteTimeout bounds each record write.
func WithWriteTimeout(d time.Duration) SyncOption {
	return func(p *PersistenceSync) error {
		if d < 0 {
			return fmt.Errorf("write timeout must not be negative: %s", d)
		}
		if d > 0 {
			p.writeTimeout = d
		}
		return nil
	}
}

// NewPersistenceSync starts the background writer for store.
func NewPersistenceSync(store RecordStore, options ...SyncOption) (*PersistenceSync, error) {
	if store == nil {
		return nil, errors.New("record store must not be nil")
	}
	retry, _ := newRetryConfig()
	p := &PersistenceSync{
		store:        store,
		logger:       slog.Default(),
		retry:        retry,
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
	p.wake = sync.NewCond(&p.mu)
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}
	go p.run()
	return p, nil
}

// Enqueue schedules a snapshot to be written and returns immediately.
// A snapshot not yet picked up by the worker is replaced. It is dropped after Close.
func (p *PersistenceSync) Enqueue(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("persistence sync closed, snapshot dropped", "version", s.Version)
		return
	}
	if p.pending != nil {
		p.superseded.Add(1)
	}
	p.pending = &s
	p.wake.Signal()
}

// Flush waits until the latest snapshot enqueued before the call has been written.
func (p *PersistenceSync) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrSyncClosed
	}
	p.waiters = append(p.waiters, flushed)
	p.wake.Signal()
	p.mu.Unlock()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes the pending snapshot and stops the worker.
func (p *PersistenceSync) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.wake.Signal()
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written is the number of snapshots written without error.
func (p *PersistenceSync) Written() int64 { return p.written.Load() }

// Failures is the number of record writes that failed after all retries.
func (p *PersistenceSync) Failures() int64 { return p.failures.Load() }

// Superseded is the number of snapshots replaced by a newer one before being written.
func (p *PersistenceSync) Superseded() int64 { return p.superseded.Load() }

func (p *PersistenceSync) run() {
	defer close(p.done)
	p.mu.Lock()
	for {
		for p.pending == nil && len(p.waiters) == 0 && !p.closed {
			p.wake.Wait()
		}
		s, waiters := p.pending, p.waiters
		p.pending, p.waiters = nil, nil
		if s == nil && len(waiters) == 0 {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if s != nil {
			p.write(*s)
		}
		for _, w := range waiters {
			close(w)
		}
		p.mu.Lock()
	}
}

func (p *PersistenceSync) write(s State) {
	records, err := EncodeRecords(s)
	if err != nil {
		p.failures.Add(1)
		p.logger.Error("encode state for persistence", "version", s.Version, "err", err)
		return
	}

	ok := true
	for _, rec := range records {
		attempts, err := p.retry.retry(context.Background(), func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
			defer cancel()
			return p.store.PutRecord(ctx, rec.Key, rec.Value)
		})
		if err != nil {
			ok = false
			p.failures.Add(1)
			p.logger.Error("persist record", "key", rec.Key, "version", s.Version, "attempts", attempts, "err", err)
			continue
		}
		if attempts > 1 {
			p.logger.Warn("persisted record after retry", "key", rec.Key, "attempts", attempts)
		}
	}
	if ok {
		p.written.Add(1)
	}
}

// Restore rebuilds a session state from the persisted records.
// The catalog is left empty; loans restored here are applied by the next LoadCatalog.
// Missing records yield defaults and corrupt records are logged and skipped.
func (p *PersistenceSync) Restore(ctx context.Context) (State, error) {
	return RestoreState(ctx, p.store, p.logger)
}

// RestoreState is Restore for a bare RecordStore.
func RestoreState(ctx context.Context, store RecordStore, logger *slog.Logger) (State, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := EmptyState()

	for _, key := range RecordKeys {
		data, err := store.GetRecord(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if errors.Is(err, ErrRecordCorrupt) {
			logger.Warn("skipping corrupt record", "key", key)
			continue
		}
		if err != nil {
			return EmptyState(), fmt.Errorf("read record %s: %w", key, err)
		}
		if err := decodeRecord(&s, key, data); err != nil {
			logger.Warn("skipping unreadable record", "key", key, "err", err)
		}
	}

	s.Cart = dedupe(nonNil(s.Cart))
	kept := s.Cart[:0]
	for _, item := range s.Cart {
		if _, onLoan := openLoan(s, item.ID); !onLoan {
			kept = append(kept, item)
		}
	}
	s.Cart = kept
	if len(s.Cart) > MaxCartSize {
		s.Cart = s.Cart[:MaxCartSize]
	}
	s.Wishlist = dedupe(nonNil(s.Wishlist))
	s.History = nonNil(s.History)
	if s.DisplayPreference != ThemeDark {
		s.DisplayPreference = ThemeLight
	}
	return s, nil
}

func decodeRecord(s *State, key string, data []byte) error {
	switch key {
	case RecordUserProfile:
		var user *UserProfile
		if err := json.Unmarshal(data, &user); err != nil {
			return err
		}
		s.User = user
	case RecordDisplayPreference:
		var pref string
		if err := json.Unmarshal(data, &pref); err != nil {
			return err
		}
		s.DisplayPreference = pref
	default:
		var items []CatalogItem
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		switch key {
		case RecordCart:
			s.Cart = items
		case RecordWishlist:
			s.Wishlist = items
		case RecordHistory:
			s.History = items
		case RecordLoans:
			s.loans = items
		}
	}
	return nil
}

func dedupe(items []CatalogItem) []CatalogItem {
	out := make([]CatalogItem, 0, len(items))
	for _, item := range items {
		if indexOf(out, item.ID) < 0 {
			out = append(out, item)
		}
	}
	return out
}
