package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brightkit/billing/pkg/logger"
)

// Sweeper erases child profiles whose retention window has elapsed.
//
// A run is read-plan-commit: it scans every candidate profile, validates its
// deletion markers, plans the erasures, and applies them all in one atomic
// commit. A profile with bad markers is counted as an error and produces no
// writes; nothing is counted as deleted until the commit succeeds, so an
// interrupted run deletes either everything it planned or nothing.
type Sweeper struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// SweeperOption customizes optional Sweeper collaborators.
type SweeperOption func(*Sweeper)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if log == nil {
			panic("retention: logger cannot be nil")
		}
		s.log = log
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now == nil {
			panic("retention: clock cannot be nil")
		}
		s.now = now
	}
}

// NewSweeper wires the sweeper. The store is required.
func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	if store == nil {
		panic("retention: store is required")
	}
	s := &Sweeper{
		store: store,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one sweep and reports what it did. Rerunning immediately after
// a successful run is a no-op: the erased children are gone, so no profile
// plans any further writes.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	started := s.now()
	report := &Report{StartedAt: started}

	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	report.Scanned = len(profiles)

	var cleanups []ProfileCleanup
	planned := 0
	for _, profile := range profiles {
		cleanup, err := planCleanup(profile, started)
		if err != nil {
			report.Errors++
			s.log.WarnContext(ctx, "profile skipped by retention sweep",
				logger.ProfileID(profile.ID),
				logger.Error(err))
			continue
		}
		if len(cleanup.ChildIDs) == 0 {
			continue
		}
		cleanups = append(cleanups, cleanup)
		planned += len(cleanup.ChildIDs)
	}

	if len(cleanups) > 0 {
		if err := s.store.ApplyCleanup(ctx, cleanups); err != nil {
			return nil, errors.Join(ErrCommitFailed, err)
		}
		report.Deleted = planned
	}

	report.Duration = s.now().Sub(started).String()
	s.log.InfoContext(ctx, "retention sweep finished",
		logger.Count("scanned", report.Scanned),
		logger.Count("deleted", report.Deleted),
		logger.Count("errors", report.Errors))

	return report, nil
}

// planCleanup validates a profile's soft-deleted children and returns the IDs
// due for erasure. Any invalid marker poisons the whole profile: partial
// erasure of a profile with inconsistent state is worse than waiting for a
// fixed record on the next run.
func planCleanup(profile ParentProfile, now time.Time) (ProfileCleanup, error) {
	cleanup := ProfileCleanup{ProfileID: profile.ID}
	for _, child := range profile.Children {
		if err := child.validate(); err != nil {
			return ProfileCleanup{}, err
		}
		if child.expired(now) {
			cleanup.ChildIDs = append(cleanup.ChildIDs, child.ID)
		}
	}
	return cleanup, nil
}
