package core

import (
	"context"
	"strings"

	"github.com/goliatone/go-config/config"
)

const (
	DefaultEnvPrefix    = "BILLING_"
	DefaultEnvDelimiter = "__"
)

// EnvRawConfigLoader reads prefixed environment variables through the
// go-config env provider. Sections are separated by a double underscore so
// field names keep their own underscores:
//
//	BILLING_WORKER__SLOTS=8
//	BILLING_WEBHOOKS__INITIAL_BACKOFF=2s
//	BILLING_HTTP__ADMIN_USER=ops
//
// Values stay strings here; CfgxConfigProvider decodes them onto Config.
type EnvRawConfigLoader struct {
	Prefix    string
	Delimiter string
}

func NewEnvRawConfigLoader(prefix string) *EnvRawConfigLoader {
	return &EnvRawConfigLoader{Prefix: prefix, Delimiter: DefaultEnvDelimiter}
}

func (l *EnvRawConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	prefix := DefaultEnvPrefix
	delim := DefaultEnvDelimiter
	if l != nil {
		if p := strings.TrimSpace(l.Prefix); p != "" {
			prefix = strings.ToUpper(p)
		}
		if d := strings.TrimSpace(l.Delimiter); d != "" {
			delim = strings.ToLower(d)
		}
	}

	// The container decodes onto the zero Config only to reject values that
	// cannot be typed; defaults and validation run in CfgxConfigProvider.
	container := config.New(Config{}).
		WithValidation(false).
		WithProvider(config.EnvProvider[Config](prefix, delim))
	if err := container.Load(ctx); err != nil {
		return nil, NewBadInputError("core: environment config: " + err.Error())
	}
	return container.K.Raw(), nil
}
