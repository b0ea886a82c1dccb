package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	token string
	err   error
	reads []any
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.reads = append(s.reads, args...)
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	exec := &stubExecutor{token: " abc123 "}
	key, err := NewStore(exec).Token(context.Background(), " Gemini ")
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)
	assert.Equal(t, []any{"gemini"}, exec.reads)
}

func TestTokenNoRows(t *testing.T) {
	key, err := NewStore(&stubExecutor{err: pgx.ErrNoRows}).Token(context.Background(), ProviderOpenAI)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestTokenError(t *testing.T) {
	_, err := NewStore(&stubExecutor{err: errors.New("conn reset")}).Token(context.Background(), ProviderOpenAI)
	require.Error(t, err)
}

func TestResolvePrefersConfigured(t *testing.T) {
	exec := &stubExecutor{token: "stored"}
	store := NewStore(exec)

	got, err := store.Resolve(context.Background(), ProviderKlingAccess, " env-key ")
	require.NoError(t, err)
	assert.Equal(t, "env-key", got)
	assert.Empty(t, exec.reads)

	got, err = store.Resolve(context.Background(), ProviderKlingAccess, "")
	require.NoError(t, err)
	assert.Equal(t, "stored", got)

	var nilStore *Store
	got, err = nilStore.Resolve(context.Background(), ProviderKlingAccess, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	require.NoError(t, NewStore(exec).SetToken(context.Background(), "OpenAI", "secret", nil))
	require.Len(t, exec.exec.args, 3)
	assert.Equal(t, "openai", exec.exec.args[0])
	assert.Equal(t, "secret", exec.exec.args[1])
	assert.JSONEq(t, `{}`, string(exec.exec.args[2].([]byte)))
}

func TestSetTokenRejectsBlank(t *testing.T) {
	store := NewStore(&stubExecutor{})
	assert.ErrorIs(t, store.SetToken(context.Background(), ProviderGemini, " ", nil), ErrEmptyToken)
	assert.Error(t, store.SetToken(context.Background(), " ", "key", nil))
}
