package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_DefaultsToEpoch(t *testing.T) {
	c := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	assert.Equal(t, start.Add(time.Minute), c.Advance(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now(), "Now does not advance")
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(time.Time{})
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(goroutines*time.Second), c.Now())
}
