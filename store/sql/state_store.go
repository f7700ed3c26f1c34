package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// StateStore keeps subject state markers in a relational table for
// deployments without redis. Each call is a single statement; there is no
// read-modify-write transaction.
type StateStore struct {
	db  *bun.DB
	Now func() time.Time
}

func NewStateStore(db *bun.DB) (*StateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &StateStore{db: db}, nil
}

func (s *StateStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: state store is not configured")
	}
	record := &stateMarkerRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.state_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return record.Value, true, nil
}

func (s *StateStore) Set(ctx context.Context, key string, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: state key is required")
	}
	record := &stateMarkerRecord{Key: key, Value: value, UpdatedAt: s.now()}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (state_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *StateStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: state store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*stateMarkerRecord)(nil)).
		Where("state_key = ?", strings.TrimSpace(key)).
		Exec(ctx)
	return err
}

func (s *StateStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
