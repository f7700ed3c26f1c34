package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Observer records operation counters, durations and structured log lines.
type Observer struct {
	logger  Logger
	metrics MetricsRecorder
	prefix  string
}

func NewObserver(logger Logger, metrics MetricsRecorder) *Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &Observer{
		logger:  glog.Ensure(logger),
		metrics: metrics,
		prefix:  "billing",
	}
}

func (o *Observer) Logger() Logger {
	if o == nil {
		return glog.Nop()
	}
	return o.logger
}

// ObserveOperation emits billing.<operation>.total and
// billing.<operation>.duration_ms and logs the outcome.
func (o *Observer) ObserveOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if o == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	if override, ok := fields["status"].(string); ok && strings.TrimSpace(override) != "" && err == nil {
		status = strings.TrimSpace(override)
	}

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"event", "kind", "endpoint_id", "queue"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	o.RecordCounter(ctx, o.prefix+"."+operation+".total", 1, tags)
	o.RecordHistogram(ctx, o.prefix+"."+operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		o.LogError(ctx, operation+" failed", contextFields)
		return
	}
	o.LogInfo(ctx, operation+" "+status, contextFields)
}

func (o *Observer) LogInfo(ctx context.Context, message string, fields map[string]any) {
	o.logWithLevel(ctx, "info", message, fields)
}

func (o *Observer) LogWarn(ctx context.Context, message string, fields map[string]any) {
	o.logWithLevel(ctx, "warn", message, fields)
}

func (o *Observer) LogError(ctx context.Context, message string, fields map[string]any) {
	o.logWithLevel(ctx, "error", message, fields)
}

func (o *Observer) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if o == nil || o.logger == nil {
		return
	}
	logger := o.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (o *Observer) RecordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (o *Observer) RecordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
