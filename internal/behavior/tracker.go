package behavior

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/metrics"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// Absorber folds a viewed or purchased product into the user's preferences.
type Absorber interface {
	Absorb(ctx context.Context, userID string, product domain.Product) error
}

type Tracker struct {
	events   store.BehaviorStore
	catalog  store.Catalog
	absorber Absorber
	now      func() time.Time
	log      zerolog.Logger
}

func NewTracker(events store.BehaviorStore, catalog store.Catalog, absorber Absorber, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		events:   events,
		catalog:  catalog,
		absorber: absorber,
		now:      now,
		log:      logging.Component("behavior"),
	}
}

// Track records one event. When both user and product are set the product
// is folded into the user's preferences before Track returns; a missing
// product or a failing catalog only skips that step.
func (t *Tracker) Track(ctx context.Context, input domain.BehaviorEventInput) (domain.BehaviorEvent, error) {
	if !input.Action.IsValid() {
		return domain.BehaviorEvent{}, fmt.Errorf("unknown action %q: %w", input.Action, store.ErrInvalidArgument)
	}

	event := domain.BehaviorEvent{
		ID:        xid.New("evt"),
		UserID:    strings.TrimSpace(input.UserID),
		ProductID: strings.TrimSpace(input.ProductID),
		SessionID: strings.TrimSpace(input.SessionID),
		Action:    input.Action,
		Metadata:  copyMetadata(input.Metadata),
		CreatedAt: t.now().UTC(),
	}
	if err := t.events.AppendEvent(ctx, event); err != nil {
		return domain.BehaviorEvent{}, err
	}
	metrics.BehaviorEventsTotal.WithLabelValues(string(event.Action)).Inc()

	if event.UserID != "" && event.ProductID != "" && t.absorber != nil {
		t.absorb(ctx, event)
	}
	return event, nil
}

func (t *Tracker) absorb(ctx context.Context, event domain.BehaviorEvent) {
	product, err := t.catalog.GetProduct(ctx, event.ProductID)
	if err != nil {
		msg := "preference update skipped: catalog lookup failed"
		if errors.Is(err, store.ErrNotFound) {
			msg = "preference update skipped: unknown product"
		}
		t.log.Warn().Err(err).
			Str("user_id", event.UserID).
			Str("product_id", event.ProductID).
			Str("request_id", logging.RequestIDFromContext(ctx)).
			Msg(msg)
		return
	}
	if err := t.absorber.Absorb(ctx, event.UserID, *product); err != nil {
		t.log.Warn().Err(err).
			Str("user_id", event.UserID).
			Str("product_id", event.ProductID).
			Msg("preference update failed")
	}
}

// Recent returns the user's events most-recent-first.
func (t *Tracker) Recent(ctx context.Context, userID string, limit int) ([]domain.BehaviorEvent, error) {
	return t.RecentByAction(ctx, userID, "", limit)
}

func (t *Tracker) RecentByAction(ctx context.Context, userID string, action domain.BehaviorAction, limit int) ([]domain.BehaviorEvent, error) {
	if limit <= 0 {
		return []domain.BehaviorEvent{}, nil
	}
	return t.events.ListUserEvents(ctx, userID, action, limit)
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
