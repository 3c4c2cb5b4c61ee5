package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"civicbrief/internal/models"
)

type fakeSynth struct {
	calls []int
	fail  int // ordinal to fail on, -1 for never
}

func (f *fakeSynth) Synthesize(_ context.Context, chunk models.AudioChunk) ([]byte, error) {
	f.calls = append(f.calls, chunk.Ordinal)
	if f.fail == chunk.Ordinal {
		return nil, errors.New("synthesis refused")
	}
	return []byte(fmt.Sprintf("<%d>", chunk.Ordinal)), nil
}

func chunksOf(n int) []models.AudioChunk {
	chunks := make([]models.AudioChunk, n)
	for i := range chunks {
		chunks[i] = models.AudioChunk{Ordinal: i}
	}
	return chunks
}

func TestRenderPreservesOrder(t *testing.T) {
	synth := &fakeSynth{fail: -1}
	r := NewRenderer(synth, 0)

	out, err := r.Render(context.Background(), chunksOf(3))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(out, []byte("<0><1><2>")) {
		t.Fatalf("unexpected concatenation: %q", out)
	}
	for i, ord := range synth.calls {
		if ord != i {
			t.Fatalf("chunks synthesized out of order: %v", synth.calls)
		}
	}
}

func TestRenderFailsWholeOnChunkError(t *testing.T) {
	synth := &fakeSynth{fail: 1}
	r := NewRenderer(synth, 0)

	if _, err := r.Render(context.Background(), chunksOf(3)); err == nil {
		t.Fatal("expected render to fail")
	}
	// No partial result: the third chunk is never attempted.
	if len(synth.calls) != 2 {
		t.Fatalf("expected render to stop at failing chunk, calls=%v", synth.calls)
	}
}

func TestConcatenateSingleBufferIdentity(t *testing.T) {
	buf := []byte("only")
	out := Concatenate([][]byte{buf})
	if &out[0] != &buf[0] {
		t.Fatal("single-buffer concatenation should return the buffer itself")
	}
}

func TestConcatenateOrder(t *testing.T) {
	out := Concatenate([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if string(out) != "abc" {
		t.Fatalf("unexpected order: %q", out)
	}
}
