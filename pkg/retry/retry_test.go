package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return pkgerrors.New(pkgerrors.CodeDependency, "remote unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return pkgerrors.New(pkgerrors.CodeDependency, "remote unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoAbortsOnPermanentError(t *testing.T) {
	permanent := pkgerrors.New(pkgerrors.CodeForbidden, "access revoked")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
}

func TestDoTreatsUncodedErrorsAsTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(10), func(ctx context.Context) error {
		calls++
		cancel()
		return pkgerrors.New(pkgerrors.CodeDependency, "remote unavailable")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
