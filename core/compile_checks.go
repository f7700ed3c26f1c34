package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ JobHandler      = JobHandlerFunc(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
