// Package httpapi exposes the billing worker over HTTP: webhook replay,
// queue creation, raw event ingestion, health, metrics and a basic-auth
// protected admin surface. Handlers dispatch through the billing command bus.
package httpapi
