package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func serializationErr() error {
	return fmt.Errorf("insert account: %w", &pgconn.PgError{Code: SerializationFailure, Message: "could not serialize access due to concurrent update"})
}

func TestRetrySerializableRetriesOnFreshSnapshot(t *testing.T) {
	calls := 0
	err := RetrySerializable(context.Background(), 3, func() error {
		calls++
		if calls == 1 {
			return serializationErr()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetrySerializableGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := RetrySerializable(context.Background(), 3, func() error {
		calls++
		return serializationErr()
	})
	require.True(t, IsSerializationFailure(err))
	require.Equal(t, 3, calls)
}

func TestRetrySerializablePassesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RetrySerializable(context.Background(), 3, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	unique := &pgconn.PgError{Code: "23505"}
	require.False(t, IsSerializationFailure(unique))
}

func TestRetrySerializableStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetrySerializable(ctx, 3, func() error {
		calls++
		return serializationErr()
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
