package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotstack/jotstack/internal/store"
)

func TestMapError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, mapError(nil, store.ErrJobNotFound))
	})

	t.Run("no rows maps to entity not found", func(t *testing.T) {
		err := mapError(sql.ErrNoRows, store.ErrJobNotFound)
		require.ErrorIs(t, err, store.ErrJobNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})

	t.Run("wrapped no rows maps too", func(t *testing.T) {
		wrapped := fmt.Errorf("query failed: %w", sql.ErrNoRows)
		err := mapError(wrapped, store.ErrExecutionNotFound)
		require.ErrorIs(t, err, store.ErrExecutionNotFound)
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: uniqueViolationCode}
		err := mapError(pgErr, store.ErrJobNotFound)
		require.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("foreign key violation maps to update failed", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "fk_pipeline"}
		err := mapError(pgErr, store.ErrPipelineNotFound)
		require.ErrorIs(t, err, store.ErrUpdateFailed)
		assert.Contains(t, err.Error(), "fk_pipeline")
	})

	t.Run("unknown error passes through", func(t *testing.T) {
		original := errors.New("connection reset")
		assert.Equal(t, original, mapError(original, store.ErrJobNotFound))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolationCode})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
	assert.False(t, IsUniqueViolation(nil))
}
