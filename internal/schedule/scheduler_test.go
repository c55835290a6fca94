// ABOUTME: Tests for the real and manual schedulers.
// ABOUTME: Covers firing order, cancellation, nested scheduling, and Real timers.

package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_FiresInDueOrder(t *testing.T) {
	m := NewManual()
	var order []string

	m.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	m.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, order)
	assert.Equal(t, 2, m.Pending())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 3500*time.Millisecond, m.Now())
}

func TestManual_Cancel(t *testing.T) {
	m := NewManual()
	fired := false

	h := m.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel(), "second cancel is a no-op")

	m.Advance(time.Minute)
	assert.False(t, fired)
}

func TestManual_CancelAfterFire(t *testing.T) {
	m := NewManual()
	h := m.AfterFunc(time.Second, func() {})
	m.Advance(time.Second)
	assert.False(t, h.Cancel())
}

func TestManual_NestedSchedulingWithinWindow(t *testing.T) {
	m := NewManual()
	var fired []time.Duration

	m.AfterFunc(time.Second, func() {
		fired = append(fired, m.Now())
		m.AfterFunc(2*time.Second, func() {
			fired = append(fired, m.Now())
		})
	})

	m.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, fired)
}

func TestManual_Delays(t *testing.T) {
	m := NewManual()
	m.AfterFunc(4*time.Second, func() {})
	m.AfterFunc(time.Second, func() {})
	m.Advance(500 * time.Millisecond)

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 3500 * time.Millisecond}, m.Delays())
}

func TestManual_WaitPending(t *testing.T) {
	m := NewManual()
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.AfterFunc(time.Second, func() {})
	}()
	assert.True(t, m.WaitPending(1, time.Second))
	assert.False(t, m.WaitPending(2, 20*time.Millisecond))
}

func TestReal_AfterFuncAndCancel(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})

	Real{}.AfterFunc(5*time.Millisecond, func() {
		calls.Add(1)
		close(done)
	})
	h := Real{}.AfterFunc(time.Hour, func() { calls.Add(1) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	require.True(t, h.Cancel())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelAll_SkipsNil(t *testing.T) {
	m := NewManual()
	h := m.AfterFunc(time.Second, func() {})
	CancelAll(nil, h)
	assert.Equal(t, 0, m.Pending())
}
