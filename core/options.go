package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	stateStore        KeyValueStore
	subscriptionStore SubscriptionStore
	endpointStore     EndpointStore
	attemptStore      DeliveryAttemptStore
	jobEnqueuer       JobEnqueuer
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStateStore(store KeyValueStore) Option {
	return func(b *serviceBuilder) {
		b.stateStore = store
	}
}

func WithSubscriptionStore(store SubscriptionStore) Option {
	return func(b *serviceBuilder) {
		b.subscriptionStore = store
	}
}

func WithEndpointStore(store EndpointStore) Option {
	return func(b *serviceBuilder) {
		b.endpointStore = store
	}
}

func WithDeliveryAttemptStore(store DeliveryAttemptStore) Option {
	return func(b *serviceBuilder) {
		b.attemptStore = store
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("billing", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     billingErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults < loaded config < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	processor := map[string]any{}
	if includeZero || cfg.Processor.RequeueDelay > 0 {
		processor["requeue_delay"] = cfg.Processor.RequeueDelay
	}
	if includeZero || strings.TrimSpace(cfg.Processor.StateKeyPrefix) != "" {
		processor["state_key_prefix"] = cfg.Processor.StateKeyPrefix
	}
	setSection(layer, "processor", processor)

	webhooks := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Webhooks.UserAgent) != "" {
		webhooks["user_agent"] = cfg.Webhooks.UserAgent
	}
	if includeZero || cfg.Webhooks.InitialBackoff > 0 {
		webhooks["initial_backoff"] = cfg.Webhooks.InitialBackoff
	}
	if includeZero || cfg.Webhooks.MaxBackoff > 0 {
		webhooks["max_backoff"] = cfg.Webhooks.MaxBackoff
	}
	if includeZero || cfg.Webhooks.Concurrency > 0 {
		webhooks["concurrency"] = cfg.Webhooks.Concurrency
	}
	setSection(layer, "webhooks", webhooks)

	worker := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Worker.Queue) != "" {
		worker["queue"] = cfg.Worker.Queue
	}
	if includeZero || cfg.Worker.Slots > 0 {
		worker["slots"] = cfg.Worker.Slots
	}
	if includeZero || cfg.Worker.MaxAttempts > 0 {
		worker["max_attempts"] = cfg.Worker.MaxAttempts
	}
	if includeZero || cfg.Worker.BackoffInitial > 0 {
		worker["backoff_initial"] = cfg.Worker.BackoffInitial
	}
	if includeZero || cfg.Worker.BackoffMax > 0 {
		worker["backoff_max"] = cfg.Worker.BackoffMax
	}
	setSection(layer, "worker", worker)

	httpLayer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.HTTP.Addr) != "" {
		httpLayer["addr"] = cfg.HTTP.Addr
	}
	if includeZero || strings.TrimSpace(cfg.HTTP.AdminUser) != "" {
		httpLayer["admin_user"] = cfg.HTTP.AdminUser
	}
	if includeZero || strings.TrimSpace(cfg.HTTP.AdminPassword) != "" {
		httpLayer["admin_password"] = cfg.HTTP.AdminPassword
	}
	if includeZero || cfg.HTTP.Production {
		httpLayer["production"] = cfg.HTTP.Production
	}
	if includeZero || strings.TrimSpace(cfg.HTTP.StripeWebhookSecret) != "" {
		httpLayer["stripe_webhook_secret"] = cfg.HTTP.StripeWebhookSecret
	}
	setSection(layer, "http", httpLayer)

	store := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Store.Driver) != "" {
		store["driver"] = cfg.Store.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Store.DSN) != "" {
		store["dsn"] = cfg.Store.DSN
	}
	if includeZero || cfg.Store.Debug {
		store["debug"] = cfg.Store.Debug
	}
	setSection(layer, "store", store)

	redis := map[string]any{}
	if includeZero || cfg.Redis.Enabled {
		redis["enabled"] = cfg.Redis.Enabled
	}
	if includeZero || strings.TrimSpace(cfg.Redis.Addr) != "" {
		redis["addr"] = cfg.Redis.Addr
	}
	if includeZero || strings.TrimSpace(cfg.Redis.Password) != "" {
		redis["password"] = cfg.Redis.Password
	}
	if includeZero || cfg.Redis.DB > 0 {
		redis["db"] = cfg.Redis.DB
	}
	setSection(layer, "redis", redis)
	return layer
}

func setSection(layer map[string]any, key string, section map[string]any) {
	if len(section) == 0 {
		return
	}
	layer[key] = section
}
