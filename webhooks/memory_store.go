package webhooks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-billing/core"
)

var inputValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateCreateEndpoint checks and normalizes endpoint registration input.
func ValidateCreateEndpoint(in core.CreateEndpointInput) (core.CreateEndpointInput, error) {
	in = in.Normalize()
	if err := inputValidator.Struct(in); err != nil {
		return in, core.NewBadInputError("webhooks: invalid endpoint", validationFields(err)...)
	}
	return in, nil
}

// ValidateUpdateEndpoint checks partial endpoint updates.
func ValidateUpdateEndpoint(in core.UpdateEndpointInput) (core.UpdateEndpointInput, error) {
	if in.URL != nil {
		trimmed := strings.TrimSpace(*in.URL)
		in.URL = &trimmed
	}
	if in.Events != nil {
		in.Events = core.NormalizeEventNames(in.Events)
		if len(in.Events) == 0 {
			return in, core.NewBadInputError("webhooks: endpoint must subscribe to at least one event")
		}
	}
	if err := inputValidator.Struct(in); err != nil {
		return in, core.NewBadInputError("webhooks: invalid endpoint update", validationFields(err)...)
	}
	return in, nil
}

func validationFields(err error) []goerrors.FieldError {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return []goerrors.FieldError{{Field: "endpoint", Message: err.Error()}}
	}
	fields := make([]goerrors.FieldError, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields = append(fields, goerrors.FieldError{
			Field:   strings.ToLower(fieldErr.Field()),
			Message: fieldErr.Tag(),
		})
	}
	return fields
}

// ApplyEndpointUpdate merges a validated update onto endpoint.
func ApplyEndpointUpdate(endpoint core.WebhookEndpoint, in core.UpdateEndpointInput) core.WebhookEndpoint {
	if in.URL != nil {
		endpoint.URL = *in.URL
	}
	if in.Events != nil {
		endpoint.Events = slices.Clone(in.Events)
	}
	if in.IsActive != nil {
		endpoint.IsActive = *in.IsActive
	}
	if in.Secret != nil {
		endpoint.Secret = strings.TrimSpace(*in.Secret)
	}
	if in.RetryCount != nil {
		endpoint.RetryCount = *in.RetryCount
	}
	if in.Timeout != nil {
		endpoint.Timeout = *in.Timeout
	}
	return endpoint
}

// MemoryEndpointStore is an in-process EndpointStore.
type MemoryEndpointStore struct {
	mu    sync.RWMutex
	items map[string]core.WebhookEndpoint
	Now   func() time.Time
}

func NewMemoryEndpointStore() *MemoryEndpointStore {
	return &MemoryEndpointStore{
		items: map[string]core.WebhookEndpoint{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryEndpointStore) Create(_ context.Context, in core.CreateEndpointInput) (core.WebhookEndpoint, error) {
	if s == nil {
		return core.WebhookEndpoint{}, fmt.Errorf("webhooks: memory endpoint store is not configured")
	}
	in, err := ValidateCreateEndpoint(in)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	now := s.Now().UTC()
	endpoint := core.WebhookEndpoint{
		ID:         uuid.NewString(),
		URL:        in.URL,
		Events:     slices.Clone(in.Events),
		IsActive:   in.IsActive,
		Secret:     in.Secret,
		RetryCount: in.RetryCount,
		Timeout:    in.Timeout,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.mu.Lock()
	s.items[endpoint.ID] = endpoint
	s.mu.Unlock()
	return endpoint, nil
}

func (s *MemoryEndpointStore) Update(_ context.Context, id string, in core.UpdateEndpointInput) (core.WebhookEndpoint, error) {
	if s == nil {
		return core.WebhookEndpoint{}, fmt.Errorf("webhooks: memory endpoint store is not configured")
	}
	in, err := ValidateUpdateEndpoint(in)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return core.WebhookEndpoint{}, core.ErrNotFound
	}
	current = ApplyEndpointUpdate(current, in)
	current.UpdatedAt = s.Now().UTC()
	s.items[current.ID] = current
	return current, nil
}

func (s *MemoryEndpointStore) Delete(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("webhooks: memory endpoint store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := s.items[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryEndpointStore) Get(_ context.Context, id string) (core.WebhookEndpoint, error) {
	if s == nil {
		return core.WebhookEndpoint{}, fmt.Errorf("webhooks: memory endpoint store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	endpoint, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return core.WebhookEndpoint{}, core.ErrNotFound
	}
	return endpoint, nil
}

func (s *MemoryEndpointStore) List(context.Context) ([]core.WebhookEndpoint, error) {
	if s == nil {
		return nil, fmt.Errorf("webhooks: memory endpoint store is not configured")
	}
	s.mu.RLock()
	out := make([]core.WebhookEndpoint, 0, len(s.items))
	for _, endpoint := range s.items {
		out = append(out, endpoint)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryEndpointStore) ListActiveForEvent(ctx context.Context, event string) ([]core.WebhookEndpoint, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookEndpoint, 0, len(all))
	for _, endpoint := range all {
		if endpoint.IsActive && endpoint.Subscribes(event) {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

// MemoryDeliveryLog is an in-process append-only DeliveryAttemptStore.
type MemoryDeliveryLog struct {
	mu      sync.RWMutex
	records []core.DeliveryAttempt
	index   map[string]int
}

func NewMemoryDeliveryLog() *MemoryDeliveryLog {
	return &MemoryDeliveryLog{index: map[string]int{}}
}

func (l *MemoryDeliveryLog) Append(_ context.Context, attempt core.DeliveryAttempt) (core.DeliveryAttempt, error) {
	if l == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("webhooks: memory delivery log is not configured")
	}
	if strings.TrimSpace(attempt.ID) == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.SentAt.IsZero() {
		attempt.SentAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.index[attempt.ID]; exists {
		return core.DeliveryAttempt{}, fmt.Errorf("webhooks: delivery attempt %s already recorded", attempt.ID)
	}
	attempt.Body = slices.Clone(attempt.Body)
	l.index[attempt.ID] = len(l.records)
	l.records = append(l.records, attempt)
	return attempt, nil
}

func (l *MemoryDeliveryLog) Get(_ context.Context, id string) (core.DeliveryAttempt, error) {
	if l == nil {
		return core.DeliveryAttempt{}, fmt.Errorf("webhooks: memory delivery log is not configured")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	position, ok := l.index[strings.TrimSpace(id)]
	if !ok {
		return core.DeliveryAttempt{}, core.ErrNotFound
	}
	return l.records[position], nil
}

// List returns matching attempts newest first.
func (l *MemoryDeliveryLog) List(_ context.Context, filter core.DeliveryAttemptFilter) ([]core.DeliveryAttempt, error) {
	if l == nil {
		return nil, fmt.Errorf("webhooks: memory delivery log is not configured")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.DeliveryAttempt, 0, len(l.records))
	for i := len(l.records) - 1; i >= 0; i-- {
		record := l.records[i]
		if filter.EndpointID != "" && record.EndpointID != filter.EndpointID {
			continue
		}
		if filter.EventID != "" && record.EventID != filter.EventID {
			continue
		}
		if filter.Success != nil && record.Success != *filter.Success {
			continue
		}
		out = append(out, record)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ core.EndpointStore        = (*MemoryEndpointStore)(nil)
	_ core.DeliveryAttemptStore = (*MemoryDeliveryLog)(nil)
)
