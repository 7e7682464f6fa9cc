package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesFromBase(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 5 * time.Minute}
	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 10*time.Second, b.Delay(2))
	assert.Equal(t, 20*time.Second, b.Delay(3))
	assert.Equal(t, 40*time.Second, b.Delay(4))
}

func TestBackoffCaps(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	assert.Equal(t, 10*time.Second, b.Delay(5))
	assert.Equal(t, 10*time.Second, b.Delay(50))
}

func TestBackoffScheduleNonDecreasing(t *testing.T) {
	sched := DefaultBackoff().Schedule(10)
	require.Len(t, sched, 10)
	for i := 1; i < len(sched); i++ {
		assert.GreaterOrEqual(t, sched[i], sched[i-1], "delay must never shrink between attempts")
	}
	assert.Equal(t, DefaultBackoff().Max, sched[len(sched)-1])
}

func TestBackoffClampsBadAttempt(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, b.Delay(1), b.Delay(0))
	assert.Equal(t, b.Delay(1), b.Delay(-5))
}

func TestThreeFailedAttemptsWaitLongerEachTime(t *testing.T) {
	b := DefaultBackoff()
	first := b.Delay(1)
	second := b.Delay(2)
	third := b.Delay(3)
	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
}
