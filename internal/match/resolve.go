// internal/match/resolve.go
package match

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/agus-marmor/typeclash/internal/models"
)

// Resolve picks the winner of a closed-out race. It is a pure function; the
// engine's finalize guard ensures it is applied to a match at most once.
//
// Policy: anyone who crossed the line beats anyone who did not. Among
// finishers, earliest FinishedAt wins, then higher accuracy, then higher WPM.
// If nobody finished (timeout), the furthest CharsTyped wins, with the same
// accuracy and WPM tie-breaks. An empty player list has no winner.
func Resolve(players []models.MatchPlayer) *uuid.UUID {
	if len(players) == 0 {
		return nil
	}

	finished := make([]models.MatchPlayer, 0, len(players))
	for _, p := range players {
		if p.Finished {
			finished = append(finished, p)
		}
	}

	if len(finished) > 0 {
		sort.SliceStable(finished, func(i, j int) bool {
			a, b := finished[i], finished[j]
			if at, bt := finishMilli(a), finishMilli(b); at != bt {
				return at < bt
			}
			if a.Accuracy != b.Accuracy {
				return a.Accuracy > b.Accuracy
			}
			return a.WPM > b.WPM
		})
		id := finished[0].UserID
		return &id
	}

	best := make([]models.MatchPlayer, len(players))
	copy(best, players)
	sort.SliceStable(best, func(i, j int) bool {
		a, b := best[i], best[j]
		if a.CharsTyped != b.CharsTyped {
			return a.CharsTyped > b.CharsTyped
		}
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		return a.WPM > b.WPM
	})
	id := best[0].UserID
	return &id
}

// finishMilli treats a finished player missing a timestamp as finishing last,
// so a malformed record can never steal the win on a nil comparison.
func finishMilli(p models.MatchPlayer) int64 {
	if p.FinishedAt == nil {
		return math.MaxInt64
	}
	return p.FinishedAt.UnixMilli()
}
