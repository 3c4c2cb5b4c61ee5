package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"civicbrief/internal/models"
)

type fakeSource struct {
	bills    []models.Bill
	articles []models.Article
	briefs   []models.Brief
	synced   []string
}

// The fakes apply the same staleness rule as the SQL: unsynced, or
// updated after the last sync.
func (f *fakeSource) StaleBills(_ context.Context, _ int) ([]models.Bill, error) {
	var out []models.Bill
	for _, b := range f.bills {
		if models.Stale(b.UpdatedAt, b.SyncedAt) {
			out = append(out, b)
		}
	}
	return out, nil
}
func (f *fakeSource) StaleArticles(_ context.Context, _ int) ([]models.Article, error) {
	var out []models.Article
	for _, a := range f.articles {
		if models.Stale(a.UpdatedAt, a.SyncedAt) {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeSource) StaleBriefs(_ context.Context, _ int) ([]models.Brief, error) {
	var out []models.Brief
	for _, b := range f.briefs {
		if models.Stale(b.UpdatedAt, b.SyncedAt) {
			out = append(out, b)
		}
	}
	return out, nil
}
func (f *fakeSource) MarkSynced(_ context.Context, recordKind, id string, _ time.Time) error {
	f.synced = append(f.synced, recordKind+":"+id)
	return nil
}

type fakeWriter struct {
	docs    []Doc
	deleted []string
	failIDs map[string]bool
}

func (f *fakeWriter) Upsert(doc Doc) error {
	if f.failIDs[doc.ID] {
		return errors.New("index unavailable")
	}
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeWriter) Delete(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestSyncMarksOnlyAfterIndexWrite(t *testing.T) {
	source := &fakeSource{}
	writer := &fakeWriter{failIDs: map[string]bool{"bill:b2": true}}
	p := NewProjector(source, writer, zerolog.Nop())

	if err := p.SyncBill(context.Background(), models.Bill{ID: "b1"}); err != nil {
		t.Fatalf("sync b1: %v", err)
	}
	if err := p.SyncBill(context.Background(), models.Bill{ID: "b2"}); err == nil {
		t.Fatal("expected sync b2 to fail")
	}

	// b2 failed at the index write, so it must stay stale.
	if len(source.synced) != 1 || source.synced[0] != "bill:b1" {
		t.Fatalf("unexpected synced set: %v", source.synced)
	}
}

func TestSweepSkipsBadRecords(t *testing.T) {
	source := &fakeSource{
		bills:    []models.Bill{{ID: "b1"}, {ID: "b2"}},
		articles: []models.Article{{ID: "a1"}},
		briefs:   []models.Brief{{ID: "u1:2026-08-27"}},
	}
	writer := &fakeWriter{failIDs: map[string]bool{"bill:b2": true}}
	p := NewProjector(source, writer, zerolog.Nop())

	n, err := p.Sweep(context.Background(), 50)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 synced, got %d", n)
	}
	if len(source.synced) != 3 {
		t.Fatalf("expected 3 marked, got %v", source.synced)
	}
}

func TestSweepSkipsAlreadySyncedRecords(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	source := &fakeSource{
		bills: []models.Bill{
			// Synced after its last update: nothing to do.
			{ID: "fresh", UpdatedAt: past, SyncedAt: &now},
			// Updated after its last sync: must be re-indexed.
			{ID: "reopened", UpdatedAt: now, SyncedAt: &past},
			// Never synced at all.
			{ID: "new", UpdatedAt: now},
		},
	}
	writer := &fakeWriter{}
	p := NewProjector(source, writer, zerolog.Nop())

	n, err := p.Sweep(context.Background(), 50)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 synced, got %d", n)
	}
	for _, doc := range writer.docs {
		if doc.ID == "bill:fresh" {
			t.Fatal("already-synced bill must not be re-indexed")
		}
	}
}

func TestDeleteArticleDropsNamespacedDoc(t *testing.T) {
	writer := &fakeWriter{}
	p := NewProjector(&fakeSource{}, writer, zerolog.Nop())

	if err := p.DeleteArticle("a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(writer.deleted) != 1 || writer.deleted[0] != "article:a1" {
		t.Fatalf("unexpected deletions: %v", writer.deleted)
	}
}
