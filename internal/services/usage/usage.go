// Package usage enforces the per-user daily quota of final generations.
//
// A UsageRecord holds the UTC day it was last written and the number of
// generations on that day. A record dated any other day counts as absent:
// it is overwritten, never deleted.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prompt-refiner-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrStorage wraps every failure of the underlying counter store.
var ErrStorage = errors.New("usage storage error")

// DateLayout is the calendar-day format stored in records.
const DateLayout = "2006-01-02"

// Store is a durable key-value store of usage records keyed by user id.
type Store interface {
	// Get returns nil, nil when the user has no record.
	Get(ctx context.Context, userID string) (*models.UsageRecord, error)
	Put(ctx context.Context, record *models.UsageRecord) error
	// Increment atomically sets the record to {day, n+1}, where n is the
	// stored count if the stored date equals day and 0 otherwise. It
	// returns the new count.
	Increment(ctx context.Context, userID, day string) (int, error)
	Close() error
}

// Observer receives timings of store operations.
type Observer interface {
	RecordStorageOperation(operation, status string, duration time.Duration)
}

// Status is the result of a quota check.
type Status struct {
	Allowed   bool
	Remaining int
}

// Limiter checks and counts final generations against a daily limit.
type Limiter struct {
	store    Store
	limit    int
	now      func() time.Time
	observer Observer
	logger   *logrus.Logger
}

// NewLimiter creates a limiter allowing limit generations per user per day.
func NewLimiter(store Store, limit int, logger *logrus.Logger) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// WithObserver reports store operation timings to o.
func (l *Limiter) WithObserver(o Observer) *Limiter {
	l.observer = o
	return l
}

// Limit returns the configured daily limit.
func (l *Limiter) Limit() int {
	return l.limit
}

// Today returns the current UTC calendar day.
func (l *Limiter) Today() string {
	return l.now().UTC().Format(DateLayout)
}

// CheckLimit reports whether userID may generate now. A missing or stale
// record is replaced by {today, 0} as a side effect.
func (l *Limiter) CheckLimit(ctx context.Context, userID string) (Status, error) {
	today := l.Today()

	start := time.Now()
	record, err := l.store.Get(ctx, userID)
	l.observe("get", err, start)
	if err != nil {
		return Status{}, fmt.Errorf("%w: read usage for %s: %v", ErrStorage, userID, err)
	}

	if record == nil || record.Date != today {
		start = time.Now()
		err = l.store.Put(ctx, &models.UsageRecord{UserID: userID, Date: today, Count: 0})
		l.observe("put", err, start)
		if err != nil {
			return Status{}, fmt.Errorf("%w: reset usage for %s: %v", ErrStorage, userID, err)
		}
		return Status{Allowed: true, Remaining: l.limit}, nil
	}

	if record.Count >= l.limit {
		return Status{Allowed: false, Remaining: 0}, nil
	}
	return Status{Allowed: true, Remaining: l.limit - record.Count}, nil
}

// IncrementUsage counts one generation for userID today. It does not
// enforce the limit; callers check first.
func (l *Limiter) IncrementUsage(ctx context.Context, userID string) error {
	start := time.Now()
	count, err := l.store.Increment(ctx, userID, l.Today())
	l.observe("increment", err, start)
	if err != nil {
		return fmt.Errorf("%w: increment usage for %s: %v", ErrStorage, userID, err)
	}

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"count":   count,
			"limit":   l.limit,
		}).Debug("Usage incremented")
	}
	return nil
}

func (l *Limiter) observe(op string, err error, start time.Time) {
	if l.observer == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	l.observer.RecordStorageOperation(op, status, time.Since(start))
}

// nextCount applies the Increment rule to a stored record.
func nextCount(record *models.UsageRecord, day string) int {
	if record == nil || record.Date != day {
		return 1
	}
	return record.Count + 1
}
