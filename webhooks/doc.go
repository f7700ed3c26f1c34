// Package webhooks delivers outbound domain events to registered endpoints.
//
// One Dispatch builds a single envelope and fans it out concurrently; each
// endpoint is retried independently with capped exponential backoff and
// every attempt is appended to the delivery audit log. ReplayCoordinator
// re-sends an audited envelope on demand.
package webhooks
