package index

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Bleve wraps the on-disk full-text index. All writes are full-document
// upserts keyed by the namespaced doc ID.
type Bleve struct {
	idx bleve.Index
}

// OpenBleve opens the index at path, creating it with our document
// mapping if it does not exist yet.
func OpenBleve(path string) (*Bleve, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", path, err)
		}
	}
	return &Bleve{idx: idx}, nil
}

// OpenBleveReadOnly opens an existing index for queries only. The worker
// owns the write handle; the API opens read-only so both processes can
// share one index directory.
func OpenBleveReadOnly(path string) (*Bleve, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// First boot before the worker has created the index. Create
		// an empty one so queries work, then reopen without the write
		// lock.
		idx, err := bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", path, err)
		}
		if err := idx.Close(); err != nil {
			return nil, fmt.Errorf("close fresh index %s: %w", path, err)
		}
	}
	idx, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("open index %s read-only: %w", path, err)
	}
	return &Bleve{idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	docMapping.AddFieldMappingsAt("title", text)
	docMapping.AddFieldMappingsAt("body", text)
	docMapping.AddFieldMappingsAt("transcript", text)
	docMapping.AddFieldMappingsAt("topics", text)

	keyword := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("kind", keyword)

	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	docMapping.AddFieldMappingsAt("image_url", stored)
	docMapping.AddFieldMappingsAt("source_url", stored)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = docMapping
	return m
}

// Upsert writes the document, replacing any previous version under the
// same ID.
func (b *Bleve) Upsert(doc Doc) error {
	if err := b.idx.Index(doc.ID, doc); err != nil {
		return fmt.Errorf("index doc %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes the document. Deleting an absent ID is not an error.
func (b *Bleve) Delete(id string) error {
	if err := b.idx.Delete(id); err != nil {
		return fmt.Errorf("delete doc %s: %w", id, err)
	}
	return nil
}

// Hit is one search result row.
type Hit struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

// Search runs a match query over title, body, transcript and topics and
// returns up to limit hits by descending score.
func (b *Bleve) Search(q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	query := bleve.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Fields = []string{"kind"}

	res, err := b.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if kind, ok := h.Fields["kind"].(string); ok {
			hit.Kind = kind
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close flushes and closes the underlying index.
func (b *Bleve) Close() error {
	return b.idx.Close()
}
