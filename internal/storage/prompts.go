package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// GetPrompt returns the stored override for key, or nil if the key has never
// been edited (the caller falls back to the built-in default).
func (d *DB) GetPrompt(ctx context.Context, key string) (*models.Prompt, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT key, name, description, content, variables, updated_at FROM prompts WHERE key = ?`, key)
	p, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// UpsertPrompt stores or replaces a prompt override.
func (d *DB) UpsertPrompt(ctx context.Context, p *models.Prompt) error {
	variablesJSON, err := json.Marshal(p.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	p.UpdatedAt = time.Now()
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO prompts (key, name, description, content, variables, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   content = excluded.content,
		   variables = excluded.variables,
		   updated_at = excluded.updated_at`,
		p.Key, p.Name, p.Description, p.Content, string(variablesJSON), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert prompt: %w", err)
	}
	return nil
}

// ListPrompts returns all stored prompt overrides.
func (d *DB) ListPrompts(ctx context.Context) ([]*models.Prompt, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT key, name, description, content, variables, updated_at FROM prompts ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]*models.Prompt, 0)
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// DeletePrompt removes a stored override so the key falls back to its
// built-in default. Deleting a key with no override is not an error.
func (d *DB) DeletePrompt(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM prompts WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	return nil
}

type promptScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row promptScanner) (*models.Prompt, error) {
	var p models.Prompt
	var description, variablesJSON sql.NullString
	err := row.Scan(&p.Key, &p.Name, &description, &p.Content, &variablesJSON, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	if variablesJSON.Valid && variablesJSON.String != "" {
		if err := json.Unmarshal([]byte(variablesJSON.String), &p.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}
	return &p, nil
}
