package core

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service holds the resolved configuration and the shared collaborators the
// billing components are built from.
type Service struct {
	config            Config
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
	observer          *Observer
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	StateStore        KeyValueStore
	SubscriptionStore SubscriptionStore
	EndpointStore     EndpointStore
	AttemptStore      DeliveryAttemptStore
	JobEnqueuer       JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("billing", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("billing"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = billingErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		stateStore:        builder.stateStore,
		subscriptionStore: builder.subscriptionStore,
		endpointStore:     builder.endpointStore,
		attemptStore:      builder.attemptStore,
		jobEnqueuer:       builder.jobEnqueuer,
		observer:          NewObserver(logger, builder.metricsRecorder),
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		StateStore:        s.stateStore,
		SubscriptionStore: s.subscriptionStore,
		EndpointStore:     s.endpointStore,
		AttemptStore:      s.attemptStore,
		JobEnqueuer:       s.jobEnqueuer,
	}
}

// Logger returns a named child logger, falling back to the service logger.
func (s *Service) Logger(name string) Logger {
	if s == nil {
		return glog.Nop()
	}
	if s.loggerProvider != nil {
		if named := s.loggerProvider.GetLogger(name); named != nil {
			return named
		}
	}
	return glog.Ensure(s.logger)
}

func (s *Service) Observer() *Observer {
	if s == nil {
		return NewObserver(nil, nil)
	}
	return s.observer
}

// MapError maps err through the configured mapper.
func (s *Service) MapError(err error) error {
	if s == nil {
		return mapBuildError(billingErrorMapper, err)
	}
	return mapBuildError(s.errorMapper, err)
}
