package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-billing/core"
)

const endpointCacheKeyPrefix = "go-billing::webhook_endpoints::v1"

// CachedEndpointStore fronts an EndpointStore with a read cache for the
// per-dispatch endpoint resolution. Writes go to the base store and then
// invalidate every key the endpoint could appear under.
type CachedEndpointStore struct {
	base  core.EndpointStore
	cache repositorycache.CacheService
}

func NewCachedEndpointStore(base core.EndpointStore, cacheService repositorycache.CacheService) (*CachedEndpointStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base endpoint store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: endpoint cache service is required")
	}
	return &CachedEndpointStore{base: base, cache: cacheService}, nil
}

// EndpointEventCacheKey returns go-billing::webhook_endpoints::v1::event::<event>.
func EndpointEventCacheKey(event string) string {
	return strings.Join([]string{endpointCacheKeyPrefix, "event", url.PathEscape(strings.TrimSpace(event))}, "::")
}

// EndpointIDCacheKey returns go-billing::webhook_endpoints::v1::id::<id>.
func EndpointIDCacheKey(id string) string {
	return strings.Join([]string{endpointCacheKeyPrefix, "id", url.PathEscape(strings.TrimSpace(id))}, "::")
}

func (s *CachedEndpointStore) Create(ctx context.Context, in core.CreateEndpointInput) (core.WebhookEndpoint, error) {
	if err := s.ready(); err != nil {
		return core.WebhookEndpoint{}, err
	}
	created, err := s.base.Create(ctx, in)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	return created, s.invalidate(ctx, created.ID, created.Events)
}

func (s *CachedEndpointStore) Update(ctx context.Context, id string, in core.UpdateEndpointInput) (core.WebhookEndpoint, error) {
	if err := s.ready(); err != nil {
		return core.WebhookEndpoint{}, err
	}
	previous, err := s.base.Get(ctx, id)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	updated, err := s.base.Update(ctx, id, in)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	events := append(slices.Clone(previous.Events), updated.Events...)
	return updated, s.invalidate(ctx, updated.ID, events)
}

func (s *CachedEndpointStore) Delete(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	previous, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, previous.ID, previous.Events)
}

func (s *CachedEndpointStore) Get(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	if err := s.ready(); err != nil {
		return core.WebhookEndpoint{}, err
	}
	endpoint, err := repositorycache.GetOrFetch(ctx, s.cache, EndpointIDCacheKey(id), func(ctx context.Context) (core.WebhookEndpoint, error) {
		return s.base.Get(ctx, id)
	})
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	return cloneEndpoint(endpoint), nil
}

// List always reads through; it backs the admin surface, not dispatch.
func (s *CachedEndpointStore) List(ctx context.Context) ([]core.WebhookEndpoint, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.base.List(ctx)
}

func (s *CachedEndpointStore) ListActiveForEvent(ctx context.Context, event string) ([]core.WebhookEndpoint, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	endpoints, err := repositorycache.GetOrFetch(ctx, s.cache, EndpointEventCacheKey(event), func(ctx context.Context) ([]core.WebhookEndpoint, error) {
		return s.base.ListActiveForEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookEndpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		out = append(out, cloneEndpoint(endpoint))
	}
	return out, nil
}

func (s *CachedEndpointStore) invalidate(ctx context.Context, id string, events []string) error {
	keys := []string{EndpointIDCacheKey(id)}
	for _, event := range core.NormalizeEventNames(events) {
		keys = append(keys, EndpointEventCacheKey(event))
	}
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *CachedEndpointStore) ready() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached endpoint store is not configured")
	}
	return nil
}

func cloneEndpoint(endpoint core.WebhookEndpoint) core.WebhookEndpoint {
	cloned := endpoint
	cloned.Events = slices.Clone(endpoint.Events)
	return cloned
}
