// Package credentials keeps provider API keys in the integration_tokens table
// for deployments that do not pass them through the environment.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// Known key names.
const (
	ProviderOpenAI      = "openai"
	ProviderGemini      = "gemini"
	ProviderKlingAccess = "kling_access"
	ProviderKlingSecret = "kling_secret"
)

// ErrEmptyToken is returned when storing a blank key.
var ErrEmptyToken = errors.New("credentials: token is required")

// Entry describes a stored key without exposing it.
type Entry struct {
	Provider  string
	UpdatedAt time.Time
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, normalize(provider))
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: read %s: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// Resolve prefers the configured value and falls back to the stored key.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	if s == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

// SetToken stores or replaces the key for provider.
func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	provider = normalize(provider)
	if provider == "" {
		return errors.New("credentials: provider is required")
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw); err != nil {
		return fmt.Errorf("credentials: store %s: %w", provider, err)
	}
	return nil
}

// List returns every provider with a stored key.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListIntegrationProviders)
	if err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Provider, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("credentials: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
