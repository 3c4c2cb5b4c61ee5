package dialogue

import (
	"unicode/utf8"

	"civicbrief/internal/models"
)

// DefaultBudget matches the speech collaborator's documented input ceiling.
const DefaultBudget = 4500

// Chunk splits an ordered dialogue script into synthesis-sized batches.
// Lines are accumulated in conversation order; a line that would push the
// running count past budget closes the current chunk first. A single line
// longer than the budget is never split: it goes alone into its own chunk,
// so one chunk may exceed the budget by exactly that line's length.
// Concatenating all chunks' lines reproduces the input exactly.
func Chunk(lines []models.DialogueLine, budget int) []models.AudioChunk {
	if len(lines) == 0 {
		return nil
	}
	if budget <= 0 {
		budget = DefaultBudget
	}

	var chunks []models.AudioChunk
	current := models.AudioChunk{Ordinal: 0}

	for _, line := range lines {
		n := utf8.RuneCountInString(line.Text)
		if current.CharCount+n > budget && len(current.Lines) > 0 {
			chunks = append(chunks, current)
			current = models.AudioChunk{Ordinal: len(chunks)}
		}
		current.Lines = append(current.Lines, line)
		current.CharCount += n
	}
	chunks = append(chunks, current)
	return chunks
}
