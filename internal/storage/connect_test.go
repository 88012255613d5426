package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectorRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Connector{Name: "test", RetryWait: time.Millisecond, MaxJitter: time.Millisecond}.
		Connect(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("refused")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConnectorGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Connector{Name: "test", RetryWait: time.Millisecond, MaxAttempts: 2}.
		Connect(context.Background(), func(context.Context) error {
			calls++
			return errors.New("refused")
		})
	assert.EqualError(t, err, "refused")
	assert.Equal(t, 2, calls)
}

func TestConnectorStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Connector{Name: "test", RetryWait: 5 * time.Millisecond}.
		Connect(ctx, func(context.Context) error { return errors.New("refused") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
