package retry

import (
	"context"
	"errors"
	"testing"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	ok, failed int
}

func (c *countingObserver) RetryAttempt(failed bool) {
	if failed {
		c.failed++
		return
	}
	c.ok++
}

func TestDoFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), 5, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestDoEventuallyConsistent(t *testing.T) {
	// the catalog becomes visible after three polls
	expected := []string{"a", "b", "c"}
	polls := 0
	catalog := func() []string {
		polls++
		if polls < 3 {
			return nil
		}
		return expected
	}

	obs := &countingObserver{}
	err := Run(context.Background(), 20, func(context.Context) error {
		got := catalog()
		if len(got) != len(expected) {
			return errs.Mismatch("interfaces", expected, got)
		}
		return nil
	}, WithName("discovery"), WithObserver(obs))
	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, 2, obs.failed)
	assert.Equal(t, 1, obs.ok)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	last := errors.New("attempt 4")
	err := Run(context.Background(), 4, func(context.Context) error {
		calls++
		if calls == 4 {
			return last
		}
		return errors.New("not yet")
	}, WithName("discovery"))

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.True(t, errs.IsKind(err, errs.KindExhaustedRetries))
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "discovery")
}

func TestDoPermanent(t *testing.T) {
	calls := 0
	cause := errs.New(errs.KindAssertion, "wrong value")
	_, err := Do(context.Background(), 10, func(context.Context) (string, error) {
		calls++
		return "", Permanent(cause)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errs.IsKind(err, errs.KindAssertion))
	assert.False(t, errs.IsKind(err, errs.KindExhaustedRetries))
	assert.Equal(t, cause, err)
	assert.Nil(t, Permanent(nil))
}

func TestDoCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Run(ctx, 10, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoInvalidBudget(t *testing.T) {
	err := Run(context.Background(), 0, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}
