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
	"github.com/goliatone/go-billing/webhooks"
)

// EndpointStore persists webhook endpoint registrations.
type EndpointStore struct {
	db   *bun.DB
	repo repository.Repository[*endpointRecord]
	Now  func() time.Time
}

func NewEndpointStore(db *bun.DB) (*EndpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*endpointRecord](db, endpointHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid endpoint repository wiring: %w", err)
		}
	}
	return &EndpointStore{db: db, repo: repo}, nil
}

func (s *EndpointStore) Create(ctx context.Context, in core.CreateEndpointInput) (core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return core.WebhookEndpoint{}, fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	in, err := webhooks.ValidateCreateEndpoint(in)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	record := newEndpointRecord(in, s.now())
	record.ID = uuid.NewString()
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	return created.toDomain(), nil
}

func (s *EndpointStore) Update(ctx context.Context, id string, in core.UpdateEndpointInput) (core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return core.WebhookEndpoint{}, fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	in, err := webhooks.ValidateUpdateEndpoint(in)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	next := webhooks.ApplyEndpointUpdate(current, in)
	next.UpdatedAt = s.now()

	record := endpointRecordFromDomain(next)
	if _, err := s.repo.Update(ctx, record, repository.UpdateByID(record.ID)); err != nil {
		return core.WebhookEndpoint{}, err
	}
	return record.toDomain(), nil
}

func (s *EndpointStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*endpointRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *EndpointStore) Get(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return core.WebhookEndpoint{}, fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.WebhookEndpoint{}, core.ErrNotFound
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", id),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.WebhookEndpoint{}, normalizeNotFound(err)
	}
	if len(records) == 0 {
		return core.WebhookEndpoint{}, core.ErrNotFound
	}
	return records[0].toDomain(), nil
}

func (s *EndpointStore) List(ctx context.Context) ([]core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("created_at ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookEndpoint, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ListActiveForEvent filters subscriptions in Go since events is stored as a
// JSON array whose query syntax differs between dialects.
func (s *EndpointStore) ListActiveForEvent(ctx context.Context, event string) ([]core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: endpoint store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		selectFlag("is_active", true),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookEndpoint, 0, len(records))
	for _, record := range records {
		endpoint := record.toDomain()
		if endpoint.Subscribes(event) {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

func (s *EndpointStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
