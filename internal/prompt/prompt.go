// internal/prompt/prompt.go

// Package prompt supplies the race text attached to a match. The engine
// treats the returned string as opaque and immutable once attached.
package prompt

import (
	"math/rand"
	"strings"
	"sync"
)

// Provider yields a prompt of roughly wordCount words.
type Provider interface {
	GetPrompt(wordCount int) string
}

// DefaultWordCount is used when a caller passes a non-positive count.
const DefaultWordCount = 60

var wordList = []string{
	"able", "about", "above", "across", "again", "against", "always", "among", "animal", "another",
	"answer", "around", "because", "before", "began", "being", "below", "between", "black", "bring",
	"build", "called", "carry", "cause", "certain", "change", "children", "clear", "close", "color",
	"common", "country", "course", "cover", "different", "during", "early", "earth", "either", "enough",
	"every", "example", "family", "father", "figure", "follow", "friend", "front", "general", "group",
	"happen", "heard", "heart", "heavy", "however", "include", "interest", "island", "just", "know",
	"large", "learn", "leave", "letter", "light", "little", "living", "long", "machine", "many",
	"matter", "measure", "might", "money", "morning", "mother", "mountain", "music", "never", "number",
	"often", "order", "other", "paper", "party", "people", "place", "plant", "point", "power",
	"problem", "product", "public", "question", "quick", "reach", "ready", "really", "right", "young",
}

// WordList is the default Provider: a seeded stream of common words.
type WordList struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWordList builds a provider seeded from seed (use a time-based seed in
// production, a fixed one in tests).
func NewWordList(seed int64) *WordList {
	return &WordList{rng: rand.New(rand.NewSource(seed))}
}

// GetPrompt returns wordCount random words joined by single spaces.
func (w *WordList) GetPrompt(wordCount int) string {
	if wordCount <= 0 {
		wordCount = DefaultWordCount
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	words := make([]string, wordCount)
	for i := range words {
		words[i] = wordList[w.rng.Intn(len(wordList))]
	}
	return strings.Join(words, " ")
}
