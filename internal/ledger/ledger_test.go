package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	l := New()

	assert.True(t, l.Init("mug-1", 5))
	require.True(t, l.Reserve("mug-1", 2))

	assert.False(t, l.Init("mug-1", 5))
	assert.Equal(t, 3, l.Get("mug-1"))
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		quantity  int
		wantOK    bool
		wantAfter int
	}{
		{name: "within stock", stock: 5, quantity: 3, wantOK: true, wantAfter: 2},
		{name: "exact stock", stock: 5, quantity: 5, wantOK: true, wantAfter: 0},
		{name: "over stock", stock: 2, quantity: 3, wantOK: false, wantAfter: 2},
		{name: "zero quantity", stock: 5, quantity: 0, wantOK: false, wantAfter: 5},
		{name: "negative quantity", stock: 5, quantity: -1, wantOK: false, wantAfter: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			l.Init("p", tt.stock)

			assert.Equal(t, tt.wantOK, l.Reserve("p", tt.quantity))
			assert.Equal(t, tt.wantAfter, l.Get("p"))
		})
	}
}

func TestReserveUnknownProduct(t *testing.T) {
	l := New()

	assert.False(t, l.Reserve("ghost", 1))
	assert.False(t, l.Has("ghost"))
}

func TestSetClampsNegative(t *testing.T) {
	l := New()
	l.Set("p", -4)

	assert.Equal(t, 0, l.Get("p"))
	assert.True(t, l.Has("p"))
}

func TestReleaseIgnoresNonPositive(t *testing.T) {
	l := New()
	l.Init("p", 1)

	l.Release("p", 0)
	l.Release("p", -3)
	l.Release("p", 2)

	assert.Equal(t, 3, l.Get("p"))
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Init("p", 1)

	snap := l.Snapshot()
	snap["p"] = 100

	assert.Equal(t, 1, l.Get("p"))
}

func TestRestore(t *testing.T) {
	l := New()
	l.Init("old", 1)

	l.Restore(map[string]int{"a": 2, "b": -1})

	assert.False(t, l.Has("old"))
	assert.Equal(t, []string{"a", "b"}, l.IDs())
	assert.Equal(t, 0, l.Get("b"))
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	l := New()
	l.Init("p", 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve("p", 1) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, granted)
	assert.Equal(t, 0, l.Get("p"))
}
