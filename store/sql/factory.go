package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing/core"
)

// RepositoryFactory builds every relational store from one bun handle.
type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	subscriptionStore *SubscriptionStore
	endpointStore     *EndpointStore
	cachedEndpoints   *CachedEndpointStore
	deliveryLogStore  *DeliveryLogStore
	stateStore        *StateStore
}

type FactoryOption func(*RepositoryFactory)

// WithEndpointCache fronts the endpoint store with cacheService.
func WithEndpointCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.subscriptionStore != nil && f.endpointStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) SubscriptionStore() core.SubscriptionStore {
	if f == nil {
		return nil
	}
	return f.subscriptionStore
}

// EndpointStore returns the cached endpoint store when a cache was configured.
func (f *RepositoryFactory) EndpointStore() core.EndpointStore {
	if f == nil {
		return nil
	}
	if f.cachedEndpoints != nil {
		return f.cachedEndpoints
	}
	return f.endpointStore
}

func (f *RepositoryFactory) DeliveryLogStore() core.DeliveryAttemptStore {
	if f == nil {
		return nil
	}
	return f.deliveryLogStore
}

func (f *RepositoryFactory) StateStore() core.KeyValueStore {
	if f == nil {
		return nil
	}
	return f.stateStore
}

func (f *RepositoryFactory) initStores() error {
	subscriptionStore, err := NewSubscriptionStore(f.db)
	if err != nil {
		return err
	}
	f.subscriptionStore = subscriptionStore

	endpointStore, err := NewEndpointStore(f.db)
	if err != nil {
		return err
	}
	f.endpointStore = endpointStore
	if f.cache != nil {
		cached, cacheErr := NewCachedEndpointStore(endpointStore, f.cache)
		if cacheErr != nil {
			return cacheErr
		}
		f.cachedEndpoints = cached
	}

	deliveryLogStore, err := NewDeliveryLogStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryLogStore = deliveryLogStore

	stateStore, err := NewStateStore(f.db)
	if err != nil {
		return err
	}
	f.stateStore = stateStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
