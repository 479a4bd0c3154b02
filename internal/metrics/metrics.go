// internal/metrics/metrics.go

// Package metrics holds the pure typing-metric calculations. The server
// recomputes these from clamped values on every progress update; client
// claims are advisory only.
package metrics

import (
	"math"
	"time"
)

// wordLength is the conventional 5-characters-per-word constant.
const wordLength = 5.0

// WPM returns the gross words-per-minute for charsTyped over elapsed,
// rounded to the nearest integer. Non-positive elapsed yields 0 to guard the
// division.
func WPM(charsTyped int, elapsed time.Duration) int {
	if elapsed <= 0 || charsTyped <= 0 {
		return 0
	}
	minutes := elapsed.Minutes()
	return int(math.Round((float64(charsTyped) / wordLength) / minutes))
}

// Accuracy returns the percentage of typed positions never mistyped, rounded
// and clamped to [0, 100]. With nothing typed yet accuracy is a perfect 100.
// Errors can transiently exceed charsTyped under racing updates; the result
// clamps at 0 rather than going negative.
func Accuracy(charsTyped, errors int) int {
	if charsTyped <= 0 {
		return 100
	}
	acc := math.Round(100 * (1 - float64(errors)/float64(charsTyped)))
	if acc < 0 {
		return 0
	}
	if acc > 100 {
		return 100
	}
	return int(acc)
}
