// internal/metrics/metrics_test.go
package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWPM(t *testing.T) {
	// 100 chars in 1 minute = 20 words/min
	assert.Equal(t, 20, WPM(100, time.Minute))

	// 250 chars in 30s = 50 words over half a minute = 100 wpm
	assert.Equal(t, 100, WPM(250, 30*time.Second))

	// rounding: 47 chars in 1 min = 9.4 words -> 9
	assert.Equal(t, 9, WPM(47, time.Minute))
}

func TestWPMGuards(t *testing.T) {
	assert.Equal(t, 0, WPM(100, 0), "zero elapsed must not divide")
	assert.Equal(t, 0, WPM(100, -time.Second))
	assert.Equal(t, 0, WPM(0, time.Minute))
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 100, Accuracy(100, 0))
	assert.Equal(t, 98, Accuracy(100, 2))
	assert.Equal(t, 50, Accuracy(10, 5))

	// rounding
	assert.Equal(t, 97, Accuracy(30, 1)) // 96.67 -> 97
}

func TestAccuracyClamps(t *testing.T) {
	assert.Equal(t, 100, Accuracy(0, 0), "nothing typed yet is a perfect run")
	assert.Equal(t, 100, Accuracy(0, 5))
	assert.Equal(t, 0, Accuracy(3, 10), "errors exceeding chars clamp at 0, never negative")
}
