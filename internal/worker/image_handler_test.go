package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"civicbrief/internal/config"
	"civicbrief/internal/images"
	"civicbrief/internal/models"
	"civicbrief/internal/store"
)

type fakeImageStore struct {
	article  *models.Article
	attached map[string]*models.ImageAsset
	progress []int
}

func newFakeImageStore(article *models.Article) *fakeImageStore {
	return &fakeImageStore{article: article, attached: make(map[string]*models.ImageAsset)}
}

func (f *fakeImageStore) GetBill(_ context.Context, _ string) (models.Bill, error) {
	return models.Bill{}, store.ErrNotFound
}
func (f *fakeImageStore) GetArticle(_ context.Context, id string) (models.Article, error) {
	if f.article == nil || f.article.ID != id {
		return models.Article{}, store.ErrNotFound
	}
	return *f.article, nil
}
func (f *fakeImageStore) GetBrief(_ context.Context, _ string) (models.Brief, error) {
	return models.Brief{}, store.ErrNotFound
}
func (f *fakeImageStore) AttachImage(_ context.Context, recordKind, id string, asset *models.ImageAsset) error {
	f.attached[recordKind+":"+id] = asset
	return nil
}
func (f *fakeImageStore) UpdateProgress(_ context.Context, _ string, percent int) error {
	f.progress = append(f.progress, percent)
	return nil
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func imageJob(recordKind, recordID string) models.Job {
	return models.Job{
		ID:          "img-job",
		Kind:        models.KindImage,
		Payload:     []byte(`{"record_kind":"` + recordKind + `","record_id":"` + recordID + `"}`),
		MaxAttempts: 3,
	}
}

func newImageHandler(st ImageStore, resolver imageResolver, up *fakeUploader) *ImageHandler {
	cfg := config.Config{ImageThumbWidth: 640, ImageMaxBytes: 10 << 20}
	return NewImageHandler(cfg, st, resolver, up, &fakeSyncer{}, zerolog.Nop())
}

func TestImageHandlerRehostsExplicitImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 800, 600))
	}))
	defer server.Close()

	article := &models.Article{ID: "a1", Title: "Budget hearing", ImageURL: server.URL + "/photo.png"}
	st := newFakeImageStore(article)
	up := &fakeUploader{}
	waterfall := images.NewWaterfall(zerolog.Nop(),
		images.ExplicitStrategy{},
		images.NewPlaceholderStrategy("https://cdn.example.com"),
	)
	h := newImageHandler(st, waterfall, up)

	if err := h.Handle(context.Background(), imageJob(models.RecordArticle, "a1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	asset := st.attached["article:a1"]
	if asset == nil {
		t.Fatal("image not attached")
	}
	if asset.Tier != models.TierExplicit {
		t.Fatalf("unexpected tier: %s", asset.Tier)
	}
	if asset.URL != "https://cdn.example.com/images/article/a1.jpg" {
		t.Fatalf("expected re-hosted url, got %s", asset.URL)
	}
	if len(up.keys) != 1 || up.keys[0] != "images/article/a1.jpg" {
		t.Fatalf("unexpected upload keys: %v", up.keys)
	}
}

func TestImageHandlerPlaceholderNotRehosted(t *testing.T) {
	article := &models.Article{ID: "a1", Title: "No pictures here"}
	st := newFakeImageStore(article)
	up := &fakeUploader{}
	waterfall := images.NewWaterfall(zerolog.Nop(),
		images.NewPlaceholderStrategy("https://cdn.example.com"),
	)
	h := newImageHandler(st, waterfall, up)

	if err := h.Handle(context.Background(), imageJob(models.RecordArticle, "a1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	asset := st.attached["article:a1"]
	if asset == nil || asset.Tier != models.TierPlaceholder {
		t.Fatalf("expected placeholder, got %+v", asset)
	}
	if !strings.Contains(asset.URL, "/placeholders/") {
		t.Fatalf("unexpected placeholder url: %s", asset.URL)
	}
	if len(up.keys) != 0 {
		t.Fatalf("placeholder must not be re-hosted: %v", up.keys)
	}
}

func TestImageHandlerKeepsSourceURLWhenRehostFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	article := &models.Article{ID: "a1", ImageURL: server.URL + "/gone.png"}
	st := newFakeImageStore(article)
	waterfall := images.NewWaterfall(zerolog.Nop(),
		images.ExplicitStrategy{},
		images.NewPlaceholderStrategy("https://cdn.example.com"),
	)
	h := newImageHandler(st, waterfall, &fakeUploader{})

	if err := h.Handle(context.Background(), imageJob(models.RecordArticle, "a1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	asset := st.attached["article:a1"]
	if asset == nil || asset.URL != article.ImageURL {
		t.Fatalf("expected source url kept, got %+v", asset)
	}
}

func TestImageHandlerMissingRecordIsPermanent(t *testing.T) {
	st := newFakeImageStore(nil)
	waterfall := images.NewWaterfall(zerolog.Nop(), images.NewPlaceholderStrategy("https://cdn.example.com"))
	h := newImageHandler(st, waterfall, &fakeUploader{})

	err := h.Handle(context.Background(), imageJob(models.RecordArticle, "ghost"))
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
