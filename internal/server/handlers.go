package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/blob"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
)

type ownerKey struct{}

func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			s.respondError(w, http.StatusBadRequest, OwnerHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	q := r.URL.Query()
	offset, err := parseNonNegative(q.Get("offset"), 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := parseNonNegative(q.Get("limit"), s.config.Search.DefaultLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit == 0 {
		limit = s.config.Search.DefaultLimit
	}
	if limit > s.config.Search.MaxLimit {
		limit = s.config.Search.MaxLimit
	}

	s.logger.Debug("search request", zap.String("owner_id", owner), zap.String("query", q.Get("q")),
		zap.Int("offset", offset), zap.Int("limit", limit))
	resp, err := s.engine.Search(r.Context(), owner, q.Get("q"))
	if err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	resp.Page(offset, limit)
	s.respondJSON(w, http.StatusOK, resp)
}

func parseNonNegative(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number")
	}
	return n, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	s.logger.Debug("upload request", zap.String("owner_id", owner), zap.String("filename", header.Filename),
		zap.Int("bytes", len(content)))
	asset, err := s.ingester.Upload(r.Context(), &models.MediaInput{
		OwnerID:  owner,
		Title:    r.FormValue("title"),
		Filename: header.Filename,
	}, content)
	if err != nil {
		s.respondErr(w, "upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.ingester.Get(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get asset failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, asset)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	asset, rc, err := s.ingester.Open(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "open content failed", err)
		return
	}
	defer rc.Close()
	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if asset.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(asset.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("content stream interrupted", zap.String("asset_id", asset.ID), zap.Error(err))
	}
}

type retitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRetitle(w http.ResponseWriter, r *http.Request) {
	var req retitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	asset, err := s.ingester.Retitle(r.Context(), ownerFrom(r), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		s.respondErr(w, "retitle failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, asset)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.ingester.Delete(r.Context(), ownerFrom(r), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, "delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ingester.Status(r.Context())
	if err != nil {
		s.respondErr(w, "status failed", err)
		return
	}
	if s.watch != nil {
		st.WatchDirectories = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, st)
}

// statusFor maps domain errors to HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound, "asset not found"
	case errors.Is(err, search.ErrSearchUnavailable):
		return http.StatusServiceUnavailable, "search unavailable"
	case errors.Is(err, models.ErrOwnerRequired), errors.Is(err, ingest.ErrEmptyContent):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, message)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
