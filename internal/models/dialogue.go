package models

// Speaker roles of the two-host dialogue. Ordering of lines is
// conversation order and must survive chunking and concatenation.
const (
	SpeakerHostA = "hostA"
	SpeakerHostB = "hostB"
)

// DialogueLine is one utterance of the generated script. Immutable once
// produced by the script collaborator.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AudioChunk is a contiguous run of dialogue lines sized to fit the
// speech-synthesis input ceiling. It exists only while rendering audio.
type AudioChunk struct {
	Ordinal   int            `json:"ordinal"`
	Lines     []DialogueLine `json:"lines"`
	CharCount int            `json:"char_count"`
}
