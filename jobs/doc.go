// Package jobs runs queued billing work on go-job workers. Queues sit on a
// go-job storage (in memory or redis) and add per-job logs, stats and
// dead-letter reads. Deferred outcomes are re-enqueued without spending the
// retry budget; failures back off and dead-letter per the queue policy.
package jobs
