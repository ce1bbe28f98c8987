package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginSupersedesPreviousRequest(t *testing.T) {
	r := NewRegistry()

	ctx1, t1 := r.Begin(context.Background(), "case-1")
	ctx2, t2 := r.Begin(context.Background(), "case-1")

	require.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.NoError(t, ctx2.Err())
	assert.False(t, t1.Current())
	assert.True(t, t2.Current())
	assert.Greater(t, t2.Generation, t1.Generation)

	// the superseded ticket finishing late must not clear the newer one
	t1.Done()
	assert.True(t, t2.Current())
	assert.Equal(t, 1, r.InFlight())

	t2.Done()
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.Equal(t, 0, r.InFlight())
}

func TestCasesAreIndependent(t *testing.T) {
	r := NewRegistry()

	ctxA, a := r.Begin(context.Background(), "a")
	_, b := r.Begin(context.Background(), "b")
	defer a.Done()
	defer b.Done()

	assert.NoError(t, ctxA.Err())
	assert.True(t, a.Current())
	assert.True(t, b.Current())
	assert.Equal(t, 2, r.InFlight())
}

func TestParentCancellationPropagates(t *testing.T) {
	r := NewRegistry()
	parent, cancel := context.WithCancel(context.Background())

	ctx, tk := r.Begin(parent, "case")
	defer tk.Done()
	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestConcurrentBegin(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	tickets := make([]*Ticket, 50)
	for i := range tickets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, tickets[i] = r.Begin(context.Background(), "shared")
		}()
	}
	wg.Wait()

	current := 0
	for _, tk := range tickets {
		if tk.Current() {
			current++
		}
	}
	assert.Equal(t, 1, current)
	for _, tk := range tickets {
		tk.Done()
	}
	assert.Equal(t, 0, r.InFlight())
}
