// Package trial tracks the one-time trial start and derives how many trial
// days are left.
package trial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shopmgr/internal/clock"
	"shopmgr/internal/storage"
)

// DefaultDays is the trial length of the product.
const DefaultDays = 7

const day = 24 * time.Hour

// Record is the persisted trial state. StartedAt is written once and never
// changed by the application.
type Record struct {
	StartedAt time.Time
}

type wireRecord struct {
	StartedAt *int64 `json:"startedAt"`
}

// MarshalJSON encodes the record as {"startedAt": <epoch ms>}.
func (r Record) MarshalJSON() ([]byte, error) {
	ms := r.StartedAt.UnixMilli()
	return json.Marshal(wireRecord{StartedAt: &ms})
}

// UnmarshalJSON requires a positive startedAt.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.StartedAt == nil || *w.StartedAt <= 0 {
		return errors.New("trial record has no startedAt")
	}
	r.StartedAt = time.UnixMilli(*w.StartedAt).UTC()
	return nil
}

// Info describes the trial at a point in time.
type Info struct {
	StartedAt     time.Time `json:"started_at"`
	EndsAt        time.Time `json:"ends_at"`
	ElapsedDays   int       `json:"elapsed_days"`
	RemainingDays int       `json:"remaining_days"`
	TotalDays     int       `json:"total_days"`
}

// Active reports whether trial days remain.
func (i Info) Active() bool {
	return i.RemainingDays > 0
}

// Clock owns the trial record in a storage.Store.
type Clock struct {
	store  storage.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewClock creates a trial Clock. A nil clk uses the wall clock.
func NewClock(store storage.Store, clk clock.Clock, logger *slog.Logger) *Clock {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Clock{
		store:  store,
		clock:  clk,
		logger: logger.With(slog.String("component", "trial_clock")),
	}
}

// EnsureStarted writes a trial record with the current time unless a valid
// one exists. It is idempotent and safe to call from concurrent first runs:
// only one writer can create the record.
//
// A record that exists but cannot be parsed is replaced. An existing record
// is never overwritten because of a read error.
func (c *Clock) EnsureStarted(ctx context.Context) error {
	_, err := c.load(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errCorrupt):
		c.logger.WarnContext(ctx, "trial record unreadable, starting a new trial",
			slog.String("error", err.Error()))
		return c.write(ctx, true)
	default:
		if !errors.Is(err, errMissing) {
			c.logger.WarnContext(ctx, "trial record read failed",
				slog.String("error", err.Error()))
		}
		return c.write(ctx, false)
	}
}

// Status reports the trial state against totalDays. It does not write. When
// no usable record exists the trial is reported as starting now.
func (c *Clock) Status(ctx context.Context, totalDays int) Info {
	now := c.clock.Now()

	startedAt := now
	if rec, err := c.load(ctx); err == nil {
		startedAt = rec.StartedAt
	} else if !errors.Is(err, errMissing) {
		c.logger.WarnContext(ctx, "trial record unusable, treating as new",
			slog.String("error", err.Error()))
	}

	return computeInfo(startedAt, now, totalDays)
}

func computeInfo(startedAt, now time.Time, totalDays int) Info {
	elapsed := int(now.Sub(startedAt) / day)
	if elapsed < 0 {
		elapsed = 0
	}

	remaining := totalDays - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return Info{
		StartedAt:     startedAt,
		EndsAt:        startedAt.Add(time.Duration(totalDays) * day),
		ElapsedDays:   elapsed,
		RemainingDays: remaining,
		TotalDays:     totalDays,
	}
}

var (
	errMissing = errors.New("trial record missing")
	errCorrupt = errors.New("trial record corrupt")
)

func (c *Clock) load(ctx context.Context) (Record, error) {
	raw, ok, err := c.store.Get(ctx, storage.KeyTrial)
	if errors.Is(err, storage.ErrCorrupt) {
		return Record{}, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, errMissing
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	return rec, nil
}

func (c *Clock) write(ctx context.Context, replace bool) error {
	rec := Record{StartedAt: c.clock.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode trial record: %w", err)
	}

	if replace {
		if err := c.store.Set(ctx, storage.KeyTrial, string(data)); err != nil {
			return fmt.Errorf("replace trial record: %w", err)
		}
		c.logger.InfoContext(ctx, "trial started", slog.Time("started_at", rec.StartedAt))
		return nil
	}

	wrote, err := c.store.SetIfAbsent(ctx, storage.KeyTrial, string(data))
	if err != nil {
		return fmt.Errorf("create trial record: %w", err)
	}
	if wrote {
		c.logger.InfoContext(ctx, "trial started", slog.Time("started_at", rec.StartedAt))
	}
	return nil
}
