package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/blob"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

type brokenTextProvider struct {
	*embedding.MockProvider
}

func (brokenTextProvider) EmbedText(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func newTestServer(t *testing.T, provider embedding.Provider, watch WatchService) http.Handler {
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
	cfg := &config.Config{}
	cfg.Server.MaxUploadMB = 1
	cfg.Search.DefaultLimit = 2
	cfg.Search.MaxLimit = 3
	logger := zap.NewNop()
	engine := search.NewEngine(store, provider, search.WithLogger(logger))
	in := ingest.NewIngester(store, blobs, provider, ingest.WithLogger(logger))
	return NewServer(engine, in, cfg, logger, watch).Router()
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func do(t *testing.T, h http.Handler, method, target, owner string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, body)
	if owner != "" {
		r.Header.Set(OwnerHeader, owner)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func upload(t *testing.T, h http.Handler, owner, filename, title string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		_ = mw.WriteField("title", title)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	return do(t, h, http.MethodPost, "/api/v1/media", owner, &buf, mw.FormDataContentType())
}

func uploadAsset(t *testing.T, h http.Handler, owner, title string, c color.Color) *models.MediaAsset {
	t.Helper()
	w := upload(t, h, owner, "photo.png", title, pngBytes(t, c))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status: got %d, body: %s", w.Code, w.Body.String())
	}
	var asset models.MediaAsset
	if err := json.NewDecoder(w.Body).Decode(&asset); err != nil {
		t.Fatal(err)
	}
	return &asset
}

func decodeSearch(t *testing.T, w *httptest.ResponseRecorder) search.Response {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("search status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp search.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)
	w := do(t, h, http.MethodGet, "/health", "", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("health: got %d %s", w.Code, w.Body.String())
	}
}

func TestMediaRequiresOwner(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)
	w := do(t, h, http.MethodGet, "/api/v1/media", "", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestUploadAndFetch(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)
	content := pngBytes(t, color.RGBA{R: 200, A: 255})
	w := upload(t, h, "alice", "sunset.png", "", content)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status: got %d, body: %s", w.Code, w.Body.String())
	}
	var asset models.MediaAsset
	if err := json.NewDecoder(w.Body).Decode(&asset); err != nil {
		t.Fatal(err)
	}
	if asset.Title != "sunset" || asset.OwnerID != "alice" || asset.ContentType != "image/png" {
		t.Errorf("asset: %+v", asset)
	}
	if strings.Contains(w.Body.String(), "embedding") {
		t.Error("embedding must not be serialized")
	}

	w = do(t, h, http.MethodGet, "/api/v1/media/"+asset.ID, "alice", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("get status: got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/media/"+asset.ID+"/content", "alice", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("content status: got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("content type: got %q", w.Header().Get("Content-Type"))
	}
	if !bytes.Equal(w.Body.Bytes(), content) {
		t.Error("content mismatch")
	}
}

func TestUploadValidation(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)

	w := do(t, h, http.MethodPost, "/api/v1/media", "alice", strings.NewReader("x"), "text/plain")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file: got %d, want 400", w.Code)
	}

	w = upload(t, h, "alice", "empty.png", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty file: got %d, want 400", w.Code)
	}

	w = upload(t, h, "alice", "huge.png", "", bytes.Repeat([]byte{1}, 2<<20))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize file: got %d, want 413", w.Code)
	}
}

func TestOtherOwnerSeesNotFound(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)
	asset := uploadAsset(t, h, "alice", "mine", color.White)

	for _, req := range []struct {
		method, target string
	}{
		{http.MethodGet, "/api/v1/media/" + asset.ID},
		{http.MethodGet, "/api/v1/media/" + asset.ID + "/content"},
		{http.MethodDelete, "/api/v1/media/" + asset.ID},
	} {
		w := do(t, h, req.method, req.target, "bob", nil, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: got %d, want 404", req.method, req.target, w.Code)
		}
	}

	resp := decodeSearch(t, do(t, h, http.MethodGet, "/api/v1/media", "bob", nil, ""))
	if resp.Total != 0 || len(resp.Assets) != 0 {
		t.Errorf("bob sees %d assets", resp.Total)
	}
}

func TestListingPagination(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)
	for i := 0; i < 5; i++ {
		uploadAsset(t, h, "alice", fmt.Sprintf("p%d", i), color.Gray{Y: uint8(i * 40)})
	}

	resp := decodeSearch(t, do(t, h, http.MethodGet, "/api/v1/media", "alice", nil, ""))
	if resp.Mode != search.ModeListing {
		t.Errorf("mode: got %q", resp.Mode)
	}
	if resp.Total != 5 || len(resp.Assets) != 2 {
		t.Errorf("default page: total %d, page %d", resp.Total, len(resp.Assets))
	}

	resp = decodeSearch(t, do(t, h, http.MethodGet, "/api/v1/media?limit=50", "alice", nil, ""))
	if len(resp.Assets) != 3 {
		t.Errorf("capped page: got %d, want 3", len(resp.Assets))
	}

	resp = decodeSearch(t, do(t, h, http.MethodGet, "/api/v1/media?offset=4&limit=3", "alice", nil, ""))
	if len(resp.Assets) != 1 {
		t.Errorf("last page: got %d, want 1", len(resp.Assets))
	}

	resp = decodeSearch(t, do(t, h, http.MethodGet, "/api/v1/media?offset=10", "alice", nil, ""))
	if len(resp.Assets) != 0 || resp.Total != 5 {
		t.Errorf("past end: total %d, page %d", resp.Total, len(resp.Assets))
	}

	w := do(t, h, http.MethodGet, "/api/v1/media?limit=-1", "alice", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: got %d, want 400", w.Code)
	}
}

func TestSemanticSearch(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)
	uploadAsset(t, h, "alice", "a", color.White)
	uploadAsset(t, h, "alice", "b", color.Black)

	resp := decodeSearch(t, do(t, h, http.MethodGet, "/api/v1/media?q=beach", "alice", nil, ""))
	if resp.Mode != search.ModeSemantic {
		t.Errorf("mode: got %q", resp.Mode)
	}
	if resp.Query != "beach" || resp.Total != 2 {
		t.Errorf("response: %+v", resp)
	}
}

func TestSearchUnavailable(t *testing.T) {
	h := newTestServer(t, brokenTextProvider{embedding.NewMockProvider(8)}, nil)
	uploadAsset(t, h, "alice", "a", color.White)

	w := do(t, h, http.MethodGet, "/api/v1/media?q=beach", "alice", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", w.Code)
	}
	if strings.Contains(w.Body.String(), "model offline") {
		t.Error("internal cause leaked to client")
	}

	resp := decodeSearch(t, do(t, h, http.MethodGet, "/api/v1/media", "alice", nil, ""))
	if resp.Total != 1 {
		t.Errorf("listing still works: got %d", resp.Total)
	}
}

func TestRetitleAndDelete(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), nil)
	asset := uploadAsset(t, h, "alice", "old", color.White)

	body, _ := json.Marshal(map[string]string{"title": "  new title "})
	w := do(t, h, http.MethodPatch, "/api/v1/media/"+asset.ID, "alice", bytes.NewReader(body), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("retitle status: got %d", w.Code)
	}
	var updated models.MediaAsset
	_ = json.NewDecoder(w.Body).Decode(&updated)
	if updated.Title != "new title" {
		t.Errorf("title: got %q", updated.Title)
	}

	w = do(t, h, http.MethodPatch, "/api/v1/media/"+asset.ID, "alice", strings.NewReader("{"), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d", w.Code)
	}

	w = do(t, h, http.MethodDelete, "/api/v1/media/"+asset.ID, "alice", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("delete status: got %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/media/"+asset.ID, "alice", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("after delete: got %d, want 404", w.Code)
	}
}

func TestStatus(t *testing.T) {
	h := newTestServer(t, embedding.NewMockProvider(8), &mockWatchService{dirs: []string{"/tmp/photos"}})
	uploadAsset(t, h, "alice", "a", color.White)

	w := do(t, h, http.MethodGet, "/api/v1/status", "", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var st ingest.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Assets != 1 || st.Embedded != 1 || st.Model != "mock" || st.Dimensions != 8 {
		t.Errorf("status: %+v", st)
	}
	if len(st.WatchDirectories) != 1 || st.WatchDirectories[0] != "/tmp/photos" {
		t.Errorf("watch directories: %v", st.WatchDirectories)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", storage.ErrNotFound), http.StatusNotFound},
		{blob.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: boom", search.ErrSearchUnavailable), http.StatusServiceUnavailable},
		{models.ErrOwnerRequired, http.StatusBadRequest},
		{ingest.ErrEmptyContent, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v): got %d, want %d", tt.err, got, tt.want)
		}
	}
}
