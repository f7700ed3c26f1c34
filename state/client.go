package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-billing/core"
)

// Client reads and writes per-subject state markers.
type Client struct {
	store  core.KeyValueStore
	prefix string
}

func NewClient(store core.KeyValueStore, prefix string) *Client {
	if prefix == "" {
		prefix = core.DefaultStateKeyPrefix
	}
	return &Client{store: store, prefix: prefix}
}

func (c *Client) Key(subjectID string) string {
	if c == nil {
		return core.DefaultStateKeyPrefix + subjectID
	}
	return c.prefix + subjectID
}

// Load returns the subject's marker. A missing key is waiting_checkout.
// Unrecognized stored values are reported as errors.
func (c *Client) Load(ctx context.Context, subjectID string) (core.SubscriptionState, error) {
	if c == nil || c.store == nil {
		return "", fmt.Errorf("state: store is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", fmt.Errorf("state: subject id is required")
	}
	raw, found, err := c.store.Get(ctx, c.Key(subjectID))
	if err != nil {
		return "", core.NewStateUnavailableError(err, "state: load marker failed")
	}
	if !found {
		return core.StateWaitingCheckout, nil
	}
	value, ok := core.ParseSubscriptionState(raw)
	if !ok {
		return "", fmt.Errorf("state: stored marker %q for %s is invalid", raw, subjectID)
	}
	return value, nil
}

// Advance stores next for the subject. Regressions are refused.
func (c *Client) Advance(ctx context.Context, subjectID string, current, next core.SubscriptionState) error {
	if c == nil || c.store == nil {
		return fmt.Errorf("state: store is not configured")
	}
	if !next.Valid() {
		return fmt.Errorf("state: marker %q is invalid", next)
	}
	if next.Rank() < current.Rank() {
		return fmt.Errorf("state: marker for %s cannot move from %s to %s", subjectID, current, next)
	}
	if err := c.store.Set(ctx, c.Key(subjectID), string(next)); err != nil {
		return core.NewStateUnavailableError(err, "state: store marker failed")
	}
	return nil
}

// Clear removes the marker after terminal cancellation.
func (c *Client) Clear(ctx context.Context, subjectID string) error {
	if c == nil || c.store == nil {
		return fmt.Errorf("state: store is not configured")
	}
	if err := c.store.Delete(ctx, c.Key(subjectID)); err != nil {
		return core.NewStateUnavailableError(err, "state: delete marker failed")
	}
	return nil
}
