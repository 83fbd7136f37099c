package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"keepalive_engine/internal/model"
	"keepalive_engine/internal/store"
)

const (
	settingsKey = "settings"
	scheduleKey = "schedule"
)

func getSetting(ctx context.Context, tx *sql.Tx, key string, out any) (bool, error) {
	var valueJSON string
	err := tx.QueryRowContext(ctx, `
		SELECT value_json FROM settings WHERE key = ?
	`, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(valueJSON), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func putSetting(ctx context.Context, tx *sql.Tx, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), time.Now().UnixMilli())
	return err
}

func (s *Store) Load(ctx context.Context) (model.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Document{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var doc model.Document
	found, err := getSetting(ctx, tx, scheduleKey, &doc.Schedule)
	if err != nil {
		return model.Document{}, err
	}
	if !found {
		return model.Document{}, store.ErrNotFound
	}
	found, err = getSetting(ctx, tx, settingsKey, &doc.Settings)
	if err != nil {
		return model.Document{}, err
	}
	if !found {
		return model.Document{}, fmt.Errorf("%w: %s", store.ErrMissingSection, settingsKey)
	}
	doc.Accounts, err = listAccounts(ctx, tx)
	if err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

// Save rewrites the whole document inside one transaction.
func (s *Store) Save(ctx context.Context, doc model.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := replaceAccounts(ctx, tx, doc.Accounts); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	if err := putSetting(ctx, tx, settingsKey, doc.Settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := putSetting(ctx, tx, scheduleKey, doc.Schedule); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return tx.Commit()
}
