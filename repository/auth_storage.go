package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-session/gotrue"
	"github.com/uptrace/bun"
)

// AuthStorageItem is the Bun model behind KeyValueStore.
type AuthStorageItem struct {
	bun.BaseModel `bun:"table:auth_storage"`

	Key       string    `bun:"item_key,pk"`
	Value     string    `bun:"item_value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// KeyValueStore persists identity client state (session tokens, PKCE
// verifiers) in the database.
type KeyValueStore struct {
	db  bun.IDB
	now func() time.Time
}

var _ gotrue.SessionStorage = (*KeyValueStore)(nil)

func NewKeyValueStore(db bun.IDB) *KeyValueStore {
	return &KeyValueStore{db: db, now: time.Now}
}

// GetItem implements gotrue.SessionStorage.
func (s *KeyValueStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var item AuthStorageItem
	err := s.db.NewSelect().
		Model(&item).
		Where("item_key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return item.Value, true, nil
}

// SetItem implements gotrue.SessionStorage.
func (s *KeyValueStore) SetItem(ctx context.Context, key, value string) error {
	item := &AuthStorageItem{Key: key, Value: value, UpdatedAt: s.now()}
	_, err := s.db.NewInsert().
		Model(item).
		On("CONFLICT (item_key) DO UPDATE").
		Set("item_value = EXCLUDED.item_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// RemoveItem implements gotrue.SessionStorage.
func (s *KeyValueStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*AuthStorageItem)(nil)).
		Where("item_key = ?", key).
		Exec(ctx)
	return err
}
