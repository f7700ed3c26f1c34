package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing/core"
)

// DeliveryLogStore is the append-only audit log of outbound delivery
// attempts. Rows are never updated.
type DeliveryLogStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryAttemptRecord]
}

func NewDeliveryLogStore(db *bun.DB) (*DeliveryLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryAttemptRecord](db, deliveryAttemptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery log repository wiring: %w", err)
		}
	}
	return &DeliveryLogStore{db: db, repo: repo}, nil
}

func (s *DeliveryLogStore) Append(ctx context.Context, attempt core.DeliveryAttempt) (core.DeliveryAttempt, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	if strings.TrimSpace(attempt.EndpointID) == "" || strings.TrimSpace(attempt.EventID) == "" {
		return core.DeliveryAttempt{}, core.NewBadInputError("sqlstore: endpoint id and event id are required")
	}
	record := newDeliveryAttemptRecord(attempt)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return core.DeliveryAttempt{}, err
	}
	return record.toDomain(), nil
}

func (s *DeliveryLogStore) Get(ctx context.Context, id string) (core.DeliveryAttempt, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.DeliveryAttempt{}, core.ErrNotFound
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", id),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.DeliveryAttempt{}, normalizeNotFound(err)
	}
	if len(records) == 0 {
		return core.DeliveryAttempt{}, core.ErrNotFound
	}
	return records[0].toDomain(), nil
}

// List returns matching attempts newest first.
func (s *DeliveryLogStore) List(ctx context.Context, filter core.DeliveryAttemptFilter) ([]core.DeliveryAttempt, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	criteria := []repository.SelectCriteria{}
	if endpointID := strings.TrimSpace(filter.EndpointID); endpointID != "" {
		criteria = append(criteria, repository.SelectBy("endpoint_id", "=", endpointID))
	}
	if eventID := strings.TrimSpace(filter.EventID); eventID != "" {
		criteria = append(criteria, repository.SelectBy("event_id", "=", eventID))
	}
	if filter.Success != nil {
		criteria = append(criteria, selectFlag("success", *filter.Success))
	}
	criteria = append(criteria, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("?TableAlias.sent_at DESC").OrderExpr("?TableAlias.attempt DESC")
	}))
	if filter.Limit > 0 {
		criteria = append(criteria, repository.SelectPaginate(filter.Limit, 0))
	}

	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeliveryAttempt, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
