package dialogue

import (
	"encoding/json"
	"fmt"
	"strings"

	"civicbrief/internal/models"
)

// ParseScript decodes the script collaborator's JSON output into dialogue
// lines. The model is instructed to return
// {"lines":[{"speaker":"hostA","text":"..."}, ...]}; some models wrap the
// JSON in a markdown fence, which is stripped before decoding.
func ParseScript(raw string) ([]models.DialogueLine, error) {
	raw = stripFence(raw)

	var payload struct {
		Lines []models.DialogueLine `json:"lines"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if len(payload.Lines) == 0 {
		return nil, fmt.Errorf("script has no dialogue lines")
	}

	for i, line := range payload.Lines {
		if line.Speaker != models.SpeakerHostA && line.Speaker != models.SpeakerHostB {
			return nil, fmt.Errorf("line %d: unknown speaker %q", i, line.Speaker)
		}
		if strings.TrimSpace(line.Text) == "" {
			return nil, fmt.Errorf("line %d: empty text", i)
		}
	}
	return payload.Lines, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
