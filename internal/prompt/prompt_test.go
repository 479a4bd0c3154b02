// internal/prompt/prompt_test.go
package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPromptWordCount(t *testing.T) {
	p := NewWordList(1)

	text := p.GetPrompt(25)
	assert.Len(t, strings.Fields(text), 25)
	assert.False(t, strings.HasPrefix(text, " "))
	assert.False(t, strings.HasSuffix(text, " "))
}

func TestGetPromptDefaultCount(t *testing.T) {
	p := NewWordList(1)
	assert.Len(t, strings.Fields(p.GetPrompt(0)), DefaultWordCount)
	assert.Len(t, strings.Fields(p.GetPrompt(-3)), DefaultWordCount)
}

func TestGetPromptDeterministicForSeed(t *testing.T) {
	a := NewWordList(42).GetPrompt(30)
	b := NewWordList(42).GetPrompt(30)
	assert.Equal(t, a, b)
}
