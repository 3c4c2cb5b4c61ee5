package audio

import (
	"context"
	"fmt"
	"time"

	"civicbrief/internal/models"
)

// Synthesizer converts one dialogue chunk into raw audio bytes. The
// collaborator enforces an input character ceiling; callers must chunk
// first.
type Synthesizer interface {
	Synthesize(ctx context.Context, chunk models.AudioChunk) ([]byte, error)
}

// Renderer drives sequential per-chunk synthesis. Chunks are submitted
// strictly in order, so concatenation order is final audio order. A fixed
// delay between calls respects the collaborator's rate limits.
type Renderer struct {
	synth Synthesizer
	delay time.Duration
}

func NewRenderer(synth Synthesizer, interCallDelay time.Duration) *Renderer {
	return &Renderer{synth: synth, delay: interCallDelay}
}

// Render synthesizes every chunk and returns the concatenated audio.
// Any chunk failure aborts the whole render; retry happens at the job
// level so speaker-turn state never ends up half-synthesized.
func (r *Renderer) Render(ctx context.Context, chunks []models.AudioChunk) ([]byte, error) {
	buffers := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.delay):
			}
		}
		data, err := r.synth.Synthesize(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("synthesize chunk %d: %w", chunk.Ordinal, err)
		}
		buffers = append(buffers, data)
	}
	return Concatenate(buffers), nil
}

// Concatenate appends buffers in chunk order. No re-encoding: with a
// single buffer the output is byte-identical to that buffer.
func Concatenate(buffers [][]byte) []byte {
	if len(buffers) == 1 {
		return buffers[0]
	}
	var total int
	for _, b := range buffers {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range buffers {
		out = append(out, b...)
	}
	return out
}
