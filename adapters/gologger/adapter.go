package gologger

import (
	"context"
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing/core"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair and returns the go-job equivalents.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// JobLog writes job log lines to a glog logger for deliveries whose queue
// keeps no per-job log.
type JobLog struct {
	Logger glog.Logger
	JobID  string
	Key    string
}

func (l JobLog) Log(ctx context.Context, message string) error {
	logger := glog.Ensure(l.Logger)
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Info(strings.TrimSpace(message), "job_id", l.JobID, "idempotency_key", l.Key)
	return nil
}

// JobLogFactory builds a JobLog per message.
func JobLogFactory(logger glog.Logger) func(msg *core.JobExecutionMessage) core.JobLogger {
	return func(msg *core.JobExecutionMessage) core.JobLogger {
		entry := JobLog{Logger: logger}
		if msg != nil {
			entry.JobID = msg.JobID
			entry.Key = msg.IdempotencyKey
		}
		return entry
	}
}

var _ core.JobLogger = JobLog{}
