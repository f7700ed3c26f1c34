package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing/core"
)

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
	Now  func() time.Time
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{
		db:   db,
		repo: repo,
	}, nil
}

// Upsert inserts or replaces the subscription keyed by its provider id.
func (s *SubscriptionStore) Upsert(ctx context.Context, in core.UpsertSubscriptionInput) (core.Subscription, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	in.StripeSubscriptionID = strings.TrimSpace(in.StripeSubscriptionID)
	if in.StripeSubscriptionID == "" {
		return core.Subscription{}, core.NewBadInputError("sqlstore: stripe subscription id is required")
	}
	if strings.TrimSpace(in.Status) == "" {
		in.Status = core.SubscriptionStatusPending
	}
	now := s.now()

	var out core.Subscription
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.findByStripeIDTx(ctx, tx, in.StripeSubscriptionID)
		if err != nil {
			return err
		}
		if existing == nil {
			record := newSubscriptionRecord(in, now)
			record.ID = uuid.NewString()
			if _, createErr := tx.NewInsert().Model(record).Exec(ctx); createErr != nil {
				return createErr
			}
			out = record.toDomain()
			return nil
		}

		existing.apply(in, now)
		if _, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		return core.Subscription{}, err
	}
	return out, nil
}

func (s *SubscriptionStore) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("stripe_subscription_id", "=", strings.TrimSpace(stripeSubscriptionID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Subscription{}, err
	}
	if len(records) == 0 {
		return core.Subscription{}, core.ErrNotFound
	}
	return records[0].toDomain(), nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Subscription{}, normalizeNotFound(err)
	}
	return record.toDomain(), nil
}

// List returns subscriptions oldest first.
func (s *SubscriptionStore) List(ctx context.Context, limit int) ([]core.Subscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	criteria := []repository.SelectCriteria{repository.OrderBy("created_at ASC")}
	if limit > 0 {
		criteria = append(criteria, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Subscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SubscriptionStore) findByStripeIDTx(
	ctx context.Context,
	tx bun.Tx,
	stripeSubscriptionID string,
) (*subscriptionRecord, error) {
	record := &subscriptionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.stripe_subscription_id = ?", stripeSubscriptionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, nil
	}
	return record, nil
}

func (s *SubscriptionStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// normalizeNotFound folds driver and repository not-found errors into
// core.ErrNotFound.
func normalizeNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, core.ErrNotFound) {
		return core.ErrNotFound
	}
	if mapped := core.MapError(err); mapped != nil && mapped.Code == 404 {
		return core.ErrNotFound
	}
	return err
}

// selectFlag filters a boolean column. Passing the bool through bun keeps the
// dialect's literal form (1/0 on sqlite, true/false on postgres).
func selectFlag(column string, value bool) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}
}
