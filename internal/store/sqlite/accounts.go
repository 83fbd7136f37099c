package sqlite

import (
	"context"
	"database/sql"
	"time"

	"keepalive_engine/internal/model"
)

func listAccounts(ctx context.Context, tx *sql.Tx) ([]model.Account, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, account, password, enabled, status, last_keepalive_ms
		FROM accounts ORDER BY position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Account{}
	for rows.Next() {
		var row struct {
			id              int
			name            string
			account         string
			password        string
			enabled         int
			status          string
			lastKeepaliveMs int64
		}
		if err := rows.Scan(&row.id, &row.name, &row.account, &row.password, &row.enabled, &row.status, &row.lastKeepaliveMs); err != nil {
			return nil, err
		}
		acc := model.Account{
			ID:       row.id,
			Name:     row.name,
			Account:  row.account,
			Password: row.password,
			Enabled:  row.enabled == 1,
			Status:   row.status,
		}
		if row.lastKeepaliveMs > 0 {
			ts := time.UnixMilli(row.lastKeepaliveMs)
			acc.LastKeepalive = &ts
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func replaceAccounts(ctx context.Context, tx *sql.Tx, accounts []model.Account) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO accounts (id, position, name, account, password, enabled, status, last_keepalive_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, acc := range accounts {
		enabled := 0
		if acc.Enabled {
			enabled = 1
		}
		var lastMs int64
		if acc.LastKeepalive != nil {
			lastMs = acc.LastKeepalive.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, acc.ID, i, acc.Name, acc.Account, acc.Password, enabled, acc.Status, lastMs); err != nil {
			return err
		}
	}
	return nil
}
