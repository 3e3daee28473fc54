package txn

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int }

func (c *counter) add(ctx context.Context, d int) {
	c.n += d
	Record(ctx, func() { c.n -= d })
}

func TestDoCommits(t *testing.T) {
	var got []any
	e := NewExecutor(WithCommitHook(func(_ context.Context, staged []any) func() {
		got = append(got, staged...)
		return nil
	}))
	c := &counter{}

	err := e.Do(context.Background(), func(ctx context.Context) error {
		c.add(ctx, 5)
		Stage(ctx, "a")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, c.n)
	assert.Equal(t, []any{"a"}, got)
}

func TestDoRollsBackOnError(t *testing.T) {
	hookCalls := 0
	e := NewExecutor(WithCommitHook(func(context.Context, []any) func() {
		hookCalls++
		return nil
	}))
	c := &counter{n: 1}
	boom := errors.New("boom")

	err := e.Do(context.Background(), func(ctx context.Context) error {
		c.add(ctx, 2)
		c.add(ctx, 3)
		Stage(ctx, "x")
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.n)
	assert.Zero(t, hookCalls)
}

func TestDoRollsBackOnPanic(t *testing.T) {
	e := NewExecutor()
	c := &counter{}

	assert.Panics(t, func() {
		_ = e.Do(context.Background(), func(ctx context.Context) error {
			c.add(ctx, 7)
			panic("bad")
		})
	})
	assert.Zero(t, c.n)

	// the lock must have been released
	require.NoError(t, e.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestNestedDoJoinsAtSavepoint(t *testing.T) {
	var staged []any
	e := NewExecutor(WithCommitHook(func(_ context.Context, s []any) func() {
		staged = append(staged, s...)
		return nil
	}))
	c := &counter{}
	inner := errors.New("inner")

	err := e.Do(context.Background(), func(ctx context.Context) error {
		c.add(ctx, 1)
		Stage(ctx, "outer")
		nestedErr := e.Do(ctx, func(ctx context.Context) error {
			c.add(ctx, 10)
			Stage(ctx, "nested")
			return inner
		})
		assert.ErrorIs(t, nestedErr, inner)
		assert.Equal(t, 1, c.n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.n)
	assert.Equal(t, []any{"outer"}, staged)
}

func TestNestedSuccessIsUndoneByOuterFailure(t *testing.T) {
	e := NewExecutor()
	c := &counter{}

	err := e.Do(context.Background(), func(ctx context.Context) error {
		require.NoError(t, e.Do(ctx, func(ctx context.Context) error {
			c.add(ctx, 4)
			return nil
		}))
		return errors.New("outer failed")
	})
	require.Error(t, err)
	assert.Zero(t, c.n)
}

func TestAfterRunsOutsideLock(t *testing.T) {
	var e *Executor
	ran := false
	e = NewExecutor(WithCommitHook(func(context.Context, []any) func() {
		return func() {
			// taking the lock again must not block
			e.View(context.Background(), func() { ran = true })
		}
	}))
	require.NoError(t, e.Do(context.Background(), func(ctx context.Context) error {
		Stage(ctx, 1)
		return nil
	}))
	assert.True(t, ran)
}

func TestRecordOutsideUnitPanics(t *testing.T) {
	assert.Panics(t, func() { Record(context.Background(), func() {}) })
	assert.Panics(t, func() { Stage(context.Background(), 1) })
	assert.False(t, Active(context.Background()))
}

func TestUnitsAreSerialised(t *testing.T) {
	e := NewExecutor()
	c := &counter{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func(ctx context.Context) error {
				c.add(ctx, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.n)
}
