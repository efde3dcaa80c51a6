package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cppla/alsoviewed/metrics"
	"github.com/cppla/alsoviewed/repository"
)

// CursorKey is the session key holding the id of the last item the visitor viewed.
const CursorKey = "alsoviewed:prev_item_id"

// ErrNoSession is returned when a visit carries no session handle.
var ErrNoSession = errors.New("visit has no session")

// Session is the per-visitor key/value state the tracker reads and writes.
type Session interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Visit is one page view of an item.
type Visit struct {
	ItemID        uint
	Authenticated bool
	Session       Session
}

// ViewTracker records item-to-item transitions of anonymous visitors.
type ViewTracker struct {
	counters repository.CounterRepository
	catalog  repository.ItemCatalog
	logger   *zap.Logger
}

// NewViewTracker wires a tracker. A nil logger disables logging.
func NewViewTracker(counters repository.CounterRepository, catalog repository.ItemCatalog, logger *zap.Logger) *ViewTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewTracker{counters: counters, catalog: catalog, logger: logger.Named("tracker")}
}

// Track counts the transition from the visitor's previously viewed item to
// v.ItemID, then makes v.ItemID the visitor's last viewed item.
//
// Signed-in visitors and unknown items are ignored without touching any state.
// A missing, stale or identical previous item skips counting but still
// advances the cursor. The two counter upserts are independent: if one fails
// the other is still attempted and nothing is rolled back, so the pair can
// drift by one until later transitions. Errors are returned for logging only;
// callers must not fail the page view on them.
func (t *ViewTracker) Track(ctx context.Context, v Visit) error {
	if v.Authenticated {
		metrics.TrackedViews.WithLabelValues(metrics.OutcomeAuthenticated).Inc()
		return nil
	}
	if v.ItemID == 0 {
		metrics.TrackedViews.WithLabelValues(metrics.OutcomeMissingItem).Inc()
		return nil
	}
	exists, err := t.catalog.ItemExists(ctx, v.ItemID)
	if err != nil {
		metrics.TrackedViews.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("check item %d: %w", v.ItemID, err)
	}
	if !exists {
		metrics.TrackedViews.WithLabelValues(metrics.OutcomeMissingItem).Inc()
		return nil
	}
	if v.Session == nil {
		metrics.TrackedViews.WithLabelValues(metrics.OutcomeError).Inc()
		return ErrNoSession
	}

	var errs error
	outcome := metrics.OutcomeCounted
	prevID, skip, err := t.previousItem(ctx, v)
	switch {
	case err != nil:
		errs = multierr.Append(errs, err)
	case skip != "":
		outcome = skip
	default:
		errs = multierr.Append(errs, t.countTransition(ctx, prevID, v.ItemID))
	}

	cursor := strconv.FormatUint(uint64(v.ItemID), 10)
	if err := v.Session.Set(ctx, CursorKey, cursor); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("advance session cursor: %w", err))
	}

	if errs != nil {
		outcome = metrics.OutcomeError
	}
	metrics.TrackedViews.WithLabelValues(outcome).Inc()
	return errs
}

// previousItem resolves the session cursor. A non-empty skip reason means
// there is no transition to count.
func (t *ViewTracker) previousItem(ctx context.Context, v Visit) (uint, string, error) {
	raw, ok, err := v.Session.Get(ctx, CursorKey)
	if err != nil {
		return 0, "", fmt.Errorf("read session cursor: %w", err)
	}
	if !ok {
		return 0, metrics.OutcomeNoPrevious, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, metrics.OutcomeNoPrevious, nil
	}

	prev, err := t.catalog.GetItem(ctx, uint(id))
	if err != nil {
		return 0, "", fmt.Errorf("resolve previous item %d: %w", id, err)
	}
	if prev == nil {
		return 0, metrics.OutcomeStalePrevious, nil
	}
	if prev.ID == v.ItemID {
		return 0, metrics.OutcomeRepeat, nil
	}
	return prev.ID, "", nil
}

func (t *ViewTracker) countTransition(ctx context.Context, prevID, curID uint) error {
	afterErr := t.counters.UpsertCounter(ctx, prevID, curID, repository.After)
	beforeErr := t.counters.UpsertCounter(ctx, curID, prevID, repository.Before)

	if (afterErr == nil) != (beforeErr == nil) {
		metrics.PartialWrites.Inc()
		t.logger.Warn("co-view pair written on one side only",
			zap.Uint("from", prevID),
			zap.Uint("to", curID),
			zap.NamedError("after_err", afterErr),
			zap.NamedError("before_err", beforeErr),
		)
	}
	return multierr.Combine(afterErr, beforeErr)
}
