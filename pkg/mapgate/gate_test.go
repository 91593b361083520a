package mapgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalstore/shoal/pkg/types"
)

// waitResult runs WaitFor in a goroutine and exposes its completion.
func waitResult(g *Gate, e types.Epoch) chan error {
	done := make(chan error, 1)
	go func() {
		done <- g.WaitFor(context.Background(), e)
	}()
	return done
}

func assertBlocked(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("waiter completed early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func assertReleased(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestWaitForSatisfiedEpochReturnsImmediately(t *testing.T) {
	g := New("test")
	g.AdvancedTo(5)

	assert.NoError(t, g.WaitFor(context.Background(), 3))
	assert.NoError(t, g.WaitFor(context.Background(), 5))
	assert.Equal(t, types.Epoch(5), g.Current())
}

func TestWaitForBlocksUntilAdvanced(t *testing.T) {
	g := New("test")

	done := waitResult(g, 2)
	assertBlocked(t, done)

	g.AdvancedTo(1)
	assertBlocked(t, done)

	g.AdvancedTo(2)
	assertReleased(t, done)
}

func TestAdvancedToReleasesSatisfiedPrefixOnly(t *testing.T) {
	g := New("test")

	w1 := waitResult(g, 1)
	w2 := waitResult(g, 2)
	w5 := waitResult(g, 5)

	// Let the goroutines register.
	time.Sleep(20 * time.Millisecond)

	g.AdvancedTo(2)
	assertReleased(t, w1)
	assertReleased(t, w2)
	assertBlocked(t, w5)

	g.AdvancedTo(5)
	assertReleased(t, w5)
}

func TestAdvancedToIsMonotonic(t *testing.T) {
	g := New("test")
	g.AdvancedTo(4)
	g.AdvancedTo(2)
	assert.Equal(t, types.Epoch(4), g.Current())
}

func TestWaitForContextCancellation(t *testing.T) {
	g := New("test")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- g.WaitFor(ctx, 9)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	// The abandoned waiter must not break later advancement.
	g.AdvancedTo(10)
	assert.NoError(t, g.WaitFor(context.Background(), 9))
}

func TestCloseFailsOutstandingWaiters(t *testing.T) {
	g := New("test")

	done := waitResult(g, 7)
	time.Sleep(20 * time.Millisecond)

	g.Close(errors.New("shutting down"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not failed by close")
	}
}

func TestWaitForAfterCloseFailsFast(t *testing.T) {
	g := New("test")
	g.Close(nil)

	err := g.WaitFor(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAdvanceAfterCloseIsNoop(t *testing.T) {
	g := New("test")
	g.AdvancedTo(3)
	g.Close(nil)
	g.AdvancedTo(9)
	assert.Equal(t, types.Epoch(3), g.Current())
}
