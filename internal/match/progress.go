// internal/match/progress.go
package match

import (
	"time"

	"github.com/agus-marmor/typeclash/internal/metrics"
	"github.com/agus-marmor/typeclash/internal/models"
)

// ProgressUpdate is a client-reported slice of typing state. Everything in it
// is untrusted; apply clamps it against the stored record.
type ProgressUpdate struct {
	CharsTyped int
	Errors     int
	Finished   bool

	// ClaimedWPM and ClaimedAccuracy are honored only at the instant the
	// player finishes, and only after clamping. Mid-race they are ignored
	// in favor of server-side computation.
	ClaimedWPM      int
	ClaimedAccuracy int
}

// apply folds an update into a player's record in place and reports whether
// this update is the one that finished the player.
//
// Counters are monotonic: a report that goes backwards (out-of-order delivery,
// client reset, tampering) keeps the stored values. CharsTyped can never
// exceed the prompt length and a finished player's record is frozen.
func apply(m *models.Match, p *models.MatchPlayer, upd ProgressUpdate, now time.Time) (newlyFinished bool) {
	if p.Finished {
		return false
	}

	chars := upd.CharsTyped
	if chars < p.CharsTyped {
		chars = p.CharsTyped
	}
	if max := len(m.PromptText); chars > max {
		chars = max
	}

	errors := upd.Errors
	if errors < p.Errors {
		errors = p.Errors
	}

	p.CharsTyped = chars
	p.Errors = errors

	var elapsed time.Duration
	if m.StartedAt != nil {
		elapsed = now.Sub(*m.StartedAt)
	}
	p.WPM = metrics.WPM(chars, elapsed)
	p.Accuracy = metrics.Accuracy(chars, errors)

	if upd.Finished || chars >= len(m.PromptText) {
		p.Finished = true
		at := now
		p.FinishedAt = &at
		if upd.ClaimedWPM > 0 {
			p.WPM = upd.ClaimedWPM
		}
		if a := upd.ClaimedAccuracy; a > 0 {
			if a > 100 {
				a = 100
			}
			p.Accuracy = a
		}
		return true
	}
	return false
}
