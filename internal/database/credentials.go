// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCredential returns the stored credential for a user; nil when the
// user never connected an account.
func (db *DB) GetCredential(ctx context.Context, userID string) (*Credential, error) {
	var cred Credential
	row := db.conn.QueryRowContext(ctx,
		`SELECT user_id, refresh_token, invalid, auth_failures FROM credentials WHERE user_id = ?`, userID)
	if err := row.Scan(&cred.UserID, &cred.RefreshToken, &cred.Invalid, &cred.AuthFailures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	return &cred, nil
}

// SaveRefreshToken stores a new or rotated refresh token and clears
// the invalid flag.
func (db *DB) SaveRefreshToken(ctx context.Context, userID, refreshToken string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO credentials (user_id, refresh_token) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			invalid = FALSE,
			updated_at = now()`,
		userID, refreshToken)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// MarkCredentialInvalid flags the credential as terminal for this user
// until they re-authenticate.
func (db *DB) MarkCredentialInvalid(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET invalid = TRUE, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("mark credential invalid: %w", err)
	}
	return nil
}

// IncrementAuthFailures bumps the consecutive-failure counter and
// returns the new count.
func (db *DB) IncrementAuthFailures(ctx context.Context, userID string) (int, error) {
	var failures int
	row := db.conn.QueryRowContext(ctx,
		`UPDATE credentials
		 SET auth_failures = auth_failures + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ?
		 RETURNING auth_failures`,
		userID)
	if err := row.Scan(&failures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("increment auth failures: %w", err)
	}
	return failures, nil
}

// ResetAuthFailures zeroes the consecutive-failure counter after any
// fully successful provider exchange.
func (db *DB) ResetAuthFailures(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET auth_failures = 0, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("reset auth failures: %w", err)
	}
	return nil
}
