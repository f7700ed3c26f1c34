package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is the last observed rate limit posture of one subscriber endpoint.
type State struct {
	EndpointID     string
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, endpointID string) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	EndpointID string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: endpoint %q throttled for %s", strings.TrimSpace(e.EndpointID), e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"endpoint_id": strings.TrimSpace(e.EndpointID)}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.BillingErrorRateLimited).
		WithMetadata(metadata)
}

// EndpointThrottle tracks 429 responses and rate limit headers per endpoint
// and tells the dispatcher how long to hold off before the next post.
type EndpointThrottle struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxWait caps any single hold-off, including server supplied Retry-After.
	MaxWait time.Duration
}

func NewEndpointThrottle(store StateStore) *EndpointThrottle {
	return &EndpointThrottle{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		MaxWait:        time.Minute,
	}
}

// BeforeSend returns how long the caller should wait before posting to the
// endpoint. Zero means go ahead.
func (p *EndpointThrottle) BeforeSend(ctx context.Context, endpointID string) (time.Duration, error) {
	if p == nil || p.Store == nil {
		return 0, nil
	}
	state, err := p.Store.Get(ctx, normalizeID(endpointID))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return 0, nil
		}
		return 0, err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return p.capWait(until.Sub(now)), nil
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return p.capWait(state.ResetAt.Sub(now)), nil
	}
	return 0, nil
}

// Check is BeforeSend expressed as an error for callers that refuse to wait.
func (p *EndpointThrottle) Check(ctx context.Context, endpointID string) error {
	wait, err := p.BeforeSend(ctx, endpointID)
	if err != nil {
		return err
	}
	if wait > 0 {
		return ThrottledError{EndpointID: normalizeID(endpointID), RetryAfter: wait}
	}
	return nil
}

// AfterSend records the endpoint response. Transport failures carry status 0
// and leave the throttle untouched.
func (p *EndpointThrottle) AfterSend(ctx context.Context, endpointID string, statusCode int, headers http.Header) error {
	if p == nil || p.Store == nil || statusCode == 0 {
		return nil
	}
	endpointID = normalizeID(endpointID)
	now := p.now()
	state, err := p.Store.Get(ctx, endpointID)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{EndpointID: endpointID}
	}

	state.LastStatus = statusCode
	state.UpdatedAt = now

	limit, hasLimit := parseHeaderInt(headers, "X-RateLimit-Limit")
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := parseHeaderInt(headers, "X-RateLimit-Remaining")
	if hasRemaining {
		state.Remaining = remaining
	}
	resetAt, hasResetAt := parseHeaderResetAt(headers)
	if hasResetAt {
		state.ResetAt = &resetAt
	}

	retryAfter, hasRetryAfter := parseRetryAfter(headers, now)
	if hasRetryAfter {
		state.RetryAfter = &retryAfter
	} else {
		state.RetryAfter = nil
	}

	if isThrottledResponse(statusCode, state.Remaining, hasRemaining || hasResetAt || hasLimit || hasRetryAfter) {
		state.Attempts++
		delay := retryAfter
		if !hasRetryAfter {
			delay = p.nextBackoff(state.Attempts)
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts = 0
	state.ThrottledUntil = nil
	return p.Store.Upsert(ctx, state)
}

func (p *EndpointThrottle) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *EndpointThrottle) capWait(wait time.Duration) time.Duration {
	if p.MaxWait > 0 && wait > p.MaxWait {
		return p.MaxWait
	}
	return wait
}

func (p *EndpointThrottle) nextBackoff(attempt int) time.Duration {
	backoff := core.ExponentialBackoff{Initial: p.InitialBackoff, Max: p.MaxBackoff}
	if backoff.Max <= 0 {
		backoff.Max = time.Minute
	}
	return backoff.Delay(attempt)
}

func isThrottledResponse(statusCode int, remaining int, hasHints bool) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 500 {
		return false
	}
	return remaining == 0 && hasHints
}

func parseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func parseHeaderInt(headers http.Header, key string) (int, bool) {
	value := strings.TrimSpace(headers.Get(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(headers http.Header) (time.Time, bool) {
	value := strings.TrimSpace(headers.Get("X-RateLimit-Reset"))
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func normalizeID(endpointID string) string {
	return strings.TrimSpace(endpointID)
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, endpointID string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeID(endpointID)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.EndpointID = normalizeID(state.EndpointID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.EndpointID] = state
	return nil
}
