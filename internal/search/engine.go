// Package search answers gallery queries: recency listings and semantic ranking.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// ErrSearchUnavailable is returned when the query text cannot be embedded.
// No partial or fallback results accompany it.
var ErrSearchUnavailable = errors.New("search unavailable")

// Mode tells which path produced a response.
type Mode string

const (
	ModeListing  Mode = "listing"
	ModeSemantic Mode = "semantic"
)

// Response is the ordered result of one search call. Scores are not exposed.
type Response struct {
	Query       string               `json:"query"`
	Mode        Mode                 `json:"mode"`
	Assets      []*models.MediaAsset `json:"assets"`
	Total       int                  `json:"total"`
	QueryTimeMs int64                `json:"query_time_ms"`
}

// Engine runs the listing and semantic paths over one owner's assets.
type Engine struct {
	storage  storage.Storage
	provider embedding.Provider
	ranker   vector.Ranker
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for per-candidate warnings and query logs.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRanker replaces the default full-scan cosine ranker.
func WithRanker(r vector.Ranker) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.ranker = r
		}
	}
}

// NewEngine creates a search engine. The provider is shared process-wide and
// owned by the caller.
func NewEngine(store storage.Storage, provider embedding.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		storage:  store,
		provider: provider,
		ranker:   vector.NewFullScanRanker(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns ownerID's assets. A blank query lists everything newest
// first; otherwise assets are ranked by similarity to the query text and
// assets without a usable embedding are left out.
func (e *Engine) Search(ctx context.Context, ownerID, query string) (*Response, error) {
	start := time.Now()
	if ownerID == "" {
		return nil, models.ErrOwnerRequired
	}
	query = strings.TrimSpace(query)

	var (
		assets []*models.MediaAsset
		mode   Mode
		err    error
	)
	if query == "" {
		mode = ModeListing
		assets, err = e.list(ctx, ownerID)
	} else {
		mode = ModeSemantic
		assets, err = e.rank(ctx, ownerID, query)
	}
	if err != nil {
		return nil, err
	}
	if assets == nil {
		assets = []*models.MediaAsset{}
	}

	e.logger.Debug("search",
		zap.String("owner_id", ownerID),
		zap.String("query", query),
		zap.String("mode", string(mode)),
		zap.Int("results", len(assets)),
	)
	return &Response{
		Query:       query,
		Mode:        mode,
		Assets:      assets,
		Total:       len(assets),
		QueryTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// Page narrows Assets to the window [offset, offset+limit). Total is kept.
func (r *Response) Page(offset, limit int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(r.Assets) {
		offset = len(r.Assets)
	}
	end := len(r.Assets)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	r.Assets = r.Assets[offset:end]
}

func (e *Engine) list(ctx context.Context, ownerID string) ([]*models.MediaAsset, error) {
	assets, err := e.storage.ListAssets(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

func (e *Engine) rank(ctx context.Context, ownerID, query string) ([]*models.MediaAsset, error) {
	queryVec, err := e.provider.EmbedText(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed",
			zap.String("owner_id", ownerID), zap.String("query", query), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}

	assets, err := e.list(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	candidates := e.candidates(ownerID, assets, len(queryVec))
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := e.ranker.Rank(queryVec, candidates)
	out := make([]*models.MediaAsset, len(ranked))
	for i, r := range ranked {
		out[i] = r.Asset
	}
	return out, nil
}

// candidates decodes stored embeddings. Assets without one are skipped
// silently; undecodable or wrong-sized ones are skipped with a warning.
func (e *Engine) candidates(ownerID string, assets []*models.MediaAsset, dims int) []vector.Candidate {
	candidates := make([]vector.Candidate, 0, len(assets))
	for _, a := range assets {
		if a.OwnerID != ownerID || !a.HasEmbedding() {
			continue
		}
		v, err := vector.Decode(a.Embedding)
		if err != nil {
			e.logger.Warn("skipping asset with undecodable embedding",
				zap.String("owner_id", ownerID), zap.String("asset_id", a.ID), zap.Error(err))
			continue
		}
		if len(v) != dims {
			e.logger.Warn("skipping asset with mismatched embedding dimensions",
				zap.String("owner_id", ownerID), zap.String("asset_id", a.ID),
				zap.Int("dimensions", len(v)), zap.Int("query_dimensions", dims))
			continue
		}
		candidates = append(candidates, vector.Candidate{Asset: a, Vector: v})
	}
	return candidates
}
