package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/shashin/internal/blob"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/fileid"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

func pngImage(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	ingester *Ingester
	store    *storage.SQLiteStorage
	blobs    *blob.FSStore
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T, provider embedding.Provider) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewFSStore(filepath.Join(dir, "media"))
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zap.DebugLevel)
	return &fixture{
		ingester: NewIngester(store, blobs, provider, WithLogger(zap.New(core))),
		store:    store,
		blobs:    blobs,
		logs:     logs,
	}
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	_ = filepath.WalkDir(f.blobs.Root(), func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func TestUpload_StoresContentRecordAndEmbedding(t *testing.T) {
	provider := embedding.NewMockProvider(8)
	f := newFixture(t, provider)
	ctx := context.Background()
	content := pngImage(t, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	asset, err := f.ingester.Upload(ctx, &models.MediaInput{OwnerID: "alice", Filename: "Meadow.PNG"}, content)
	if err != nil {
		t.Fatal(err)
	}
	if asset.ID == "" || asset.OwnerID != "alice" {
		t.Errorf("asset = %+v", asset)
	}
	if asset.Title != "Meadow" {
		t.Errorf("title = %q, want filename without extension", asset.Title)
	}
	if asset.ContentType != "image/png" || asset.SizeBytes != int64(len(content)) {
		t.Errorf("content type = %q size = %d", asset.ContentType, asset.SizeBytes)
	}
	if !strings.HasPrefix(asset.StorageLocator, "uploads/") || !strings.HasSuffix(asset.StorageLocator, ".png") {
		t.Errorf("locator = %q", asset.StorageLocator)
	}

	stored, err := f.store.GetAsset(ctx, asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	vec, err := vector.Decode(stored.Embedding)
	if err != nil {
		t.Fatalf("stored embedding: %v", err)
	}
	want, _ := provider.EmbedImage(ctx, content)
	for i := range want {
		if vec[i] != want[i] {
			t.Fatalf("embedding differs at %d", i)
		}
	}

	_, rc, err := f.ingester.Open(ctx, "alice", asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, content) {
		t.Error("content mismatch")
	}
}

func TestUpload_EmbeddingFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, embedding.NewMockProvider(8))
	ctx := context.Background()

	asset, err := f.ingester.Upload(ctx, &models.MediaInput{OwnerID: "alice", Title: " Notes ", Filename: "notes"}, []byte("plain text, not an image"))
	if err != nil {
		t.Fatal(err)
	}
	if asset.HasEmbedding() {
		t.Error("asset should have no embedding")
	}
	if asset.Title != "Notes" {
		t.Errorf("title = %q", asset.Title)
	}
	if !strings.HasSuffix(asset.StorageLocator, ".txt") {
		t.Errorf("locator %q should use the sniffed extension", asset.StorageLocator)
	}
	stored, err := f.store.GetAsset(ctx, asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.HasEmbedding() {
		t.Error("stored asset should have no embedding")
	}
	if f.logs.FilterMessage("embedding failed; saving asset without one").Len() != 1 {
		t.Error("expected a warning about the failed embedding")
	}
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t, embedding.NewMockProvider(8))
	ctx := context.Background()
	if _, err := f.ingester.Upload(ctx, &models.MediaInput{Filename: "a.png"}, []byte("x")); !errors.Is(err, models.ErrOwnerRequired) {
		t.Errorf("missing owner err = %v", err)
	}
	if _, err := f.ingester.Upload(ctx, &models.MediaInput{OwnerID: "o", Filename: "a.png"}, nil); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("empty content err = %v", err)
	}
	if f.blobCount(t) != 0 {
		t.Error("rejected uploads must not store content")
	}
}

func TestUpload_PersistFailureRemovesContent(t *testing.T) {
	f := newFixture(t, embedding.NewMockProvider(8))
	ctx := context.Background()
	content := pngImage(t, color.White)
	if _, err := f.ingester.Upload(ctx, &models.MediaInput{ID: "fixed", OwnerID: "o", Filename: "a.png"}, content); err != nil {
		t.Fatal(err)
	}
	// Same id again: the insert fails on the primary key.
	if _, err := f.ingester.Upload(ctx, &models.MediaInput{ID: "fixed", OwnerID: "o", Filename: "b.png"}, content); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	if n := f.blobCount(t); n != 1 {
		t.Errorf("blob count = %d, want 1", n)
	}
}

func TestOwnerScopedOperations(t *testing.T) {
	f := newFixture(t, embedding.NewMockProvider(8))
	ctx := context.Background()
	asset, err := f.ingester.Upload(ctx, &models.MediaInput{OwnerID: "alice", Title: "Dog"}, pngImage(t, color.Black))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.ingester.Get(ctx, "bob", asset.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get as bob err = %v", err)
	}
	if _, err := f.ingester.Retitle(ctx, "bob", asset.ID, "Mine now"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Retitle as bob err = %v", err)
	}
	if err := f.ingester.Delete(ctx, "bob", asset.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete as bob err = %v", err)
	}

	updated, err := f.ingester.Retitle(ctx, "alice", asset.ID, "  Good dog ")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "Good dog" {
		t.Errorf("title = %q", updated.Title)
	}
	stored, _ := f.store.GetAsset(ctx, asset.ID)
	if stored.Title != "Good dog" || !bytes.Equal(stored.Embedding, asset.Embedding) {
		t.Error("retitle should change only the title")
	}

	if err := f.ingester.Delete(ctx, "alice", asset.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ingester.Get(ctx, "alice", asset.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if f.blobCount(t) != 0 {
		t.Error("content should be removed")
	}
}

func TestDelete_MissingContentStillRemovesRecord(t *testing.T) {
	f := newFixture(t, embedding.NewMockProvider(8))
	ctx := context.Background()
	asset, err := f.ingester.Upload(ctx, &models.MediaInput{OwnerID: "o"}, pngImage(t, color.White))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.blobs.Delete(ctx, asset.StorageLocator); err != nil {
		t.Fatal(err)
	}
	if err := f.ingester.Delete(ctx, "o", asset.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.store.AssetExists(ctx, asset.ID); ok {
		t.Error("record should be gone")
	}
}

func TestImportFileAndDirectory(t *testing.T) {
	f := newFixture(t, embedding.NewMockProvider(8))
	ctx := context.Background()
	root := t.TempDir()
	write := func(rel string, data []byte) string {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, data, 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	first := write("a.png", pngImage(t, color.White))
	write("nested/b.png", pngImage(t, color.Black))
	write("notes.txt", []byte("skip me"))
	write(".hidden/c.png", pngImage(t, color.White))
	exts := []string{".png", ".jpg"}

	imported, err := f.ingester.ImportFile(ctx, "alice", first, exts)
	if err != nil || !imported {
		t.Fatalf("ImportFile = %v, %v", imported, err)
	}
	asset, err := f.store.GetAsset(ctx, fileid.ImportID("alice", first))
	if err != nil {
		t.Fatal(err)
	}
	if asset.Title != "a" {
		t.Errorf("title = %q", asset.Title)
	}

	stats, err := f.ingester.ImportDirectory(ctx, "alice", root, true, exts)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Imported != 1 || stats.Skipped != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}

	flat, err := f.ingester.ImportDirectory(ctx, "bob", root, false, exts)
	if err != nil {
		t.Fatal(err)
	}
	if flat.Imported != 1 {
		t.Errorf("non-recursive stats = %+v", flat)
	}

	if _, err := f.ingester.ImportFile(ctx, "alice", filepath.Join(root, "notes.txt"), exts); err == nil {
		t.Error("expected disallowed extension error")
	}
	if _, err := f.ingester.ImportDirectory(ctx, "alice", first, true, exts); err == nil {
		t.Error("expected error for non-directory")
	}
	if _, err := f.ingester.ImportDirectory(ctx, "", root, true, exts); !errors.Is(err, models.ErrOwnerRequired) {
		t.Errorf("missing owner err = %v", err)
	}

	// No filter: image extensions only.
	all, err := f.ingester.ImportDirectory(ctx, "carol", root, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if all.Imported != 2 || all.Failed != 0 {
		t.Errorf("unfiltered stats = %+v", all)
	}
	if _, err := f.ingester.ImportFile(ctx, "carol", filepath.Join(root, "notes.txt"), nil); err == nil {
		t.Error("expected non-image file to be refused without a filter")
	}
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".jpg", []string{".jpg", ".png"}, true},
		{".JPG", []string{"jpg"}, true},
		{".webp", []string{".jpg"}, false},
		{"", []string{".jpg"}, false},
	}
	for _, tt := range tests {
		if got := extensionAllowed(tt.ext, tt.allowed); got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestDisplayTitle(t *testing.T) {
	tests := []struct{ title, filename, want string }{
		{"Sunset", "x.jpg", "Sunset"},
		{"  ", "holiday.final.jpg", "holiday.final"},
		{"", "", ""},
		{"", "dir/photo.png", "photo"},
	}
	for _, tt := range tests {
		if got := displayTitle(tt.title, tt.filename); got != tt.want {
			t.Errorf("displayTitle(%q, %q) = %q, want %q", tt.title, tt.filename, got, tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, embedding.NewMockProvider(8))
	ctx := context.Background()
	content := pngImage(t, color.White)
	if _, err := f.ingester.Upload(ctx, &models.MediaInput{OwnerID: "o"}, content); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ingester.Upload(ctx, &models.MediaInput{OwnerID: "o"}, []byte("text")); err != nil {
		t.Fatal(err)
	}
	st, err := f.ingester.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Assets != 2 || st.Embedded != 1 {
		t.Errorf("counts = %d/%d, want 2/1", st.Assets, st.Embedded)
	}
	if st.MediaBytes != int64(len(content)+4) {
		t.Errorf("media bytes = %d", st.MediaBytes)
	}
	if st.DatabaseBytes <= 0 || st.Model != "mock" || st.Dimensions != 8 {
		t.Errorf("status = %+v", st)
	}
}
