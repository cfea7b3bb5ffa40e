// Package api provides the HTTP server and handlers.
package api

import (
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshdrive/meshdrive/internal/auth"
	"github.com/meshdrive/meshdrive/internal/config"
	"github.com/meshdrive/meshdrive/internal/events"
	"github.com/meshdrive/meshdrive/internal/logging"
	"github.com/meshdrive/meshdrive/internal/metrics"
	"github.com/meshdrive/meshdrive/internal/peers"
	"github.com/meshdrive/meshdrive/internal/protocol"
	"github.com/meshdrive/meshdrive/internal/ratelimit"
	"github.com/meshdrive/meshdrive/internal/usage"
	"github.com/meshdrive/meshdrive/webapp"
)

// Pool gzip writers to reduce allocations on the usage endpoint.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// RecordStore is the record-store surface the server needs. *postgres.Store
// implements it.
type RecordStore interface {
	ListFileRecords(ctx context.Context) ([]usage.FileRecord, error)
	ListNodeFileRecords(ctx context.Context, nodeID []byte) ([]usage.FileRecord, error)
	ReplaceNodeFiles(ctx context.Context, nodeID []byte, nodeName string, records []usage.FileRecord) error
	SearchFiles(ctx context.Context, query string, limit int) ([]usage.FileRecord, error)
	FileCount(ctx context.Context) (int64, error)
}

// Server is the HTTP server.
type Server struct {
	store       RecordStore
	auth        *auth.Auth
	broadcaster *events.Broadcaster
	peerCache   *peers.Cache
	limiter     *ratelimit.Limiter
	config      *config.Config
}

// NewServer creates a new server.
func NewServer(
	store RecordStore,
	authHandler *auth.Auth,
	broadcaster *events.Broadcaster,
	peerCache *peers.Cache,
	limiter *ratelimit.Limiter,
	cfg *config.Config,
) *Server {
	return &Server{
		store:       store,
		auth:        authHandler,
		broadcaster: broadcaster,
		peerCache:   peerCache,
		limiter:     limiter,
		config:      cfg,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)

	// Web app (no auth, the app handles login via API)
	// WEBAPP_DIR overrides embedded assets for live-reload during development
	var appHandler http.Handler
	if dir := os.Getenv("WEBAPP_DIR"); dir != "" {
		logging.Info("serving webapp from disk", zap.String("dir", dir))
		appHandler = http.StripPrefix("/app/", http.FileServer(http.Dir(dir)))
	} else {
		appHandler = http.StripPrefix("/app/", http.FileServer(http.FS(webapp.Assets)))
	}
	mux.Handle("/app/", appHandler)
	mux.HandleFunc("GET /app", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app/", http.StatusMovedPermanently)
	})

	// Protected endpoints
	protected := http.NewServeMux()

	// Dashboard feed
	protected.HandleFunc("GET /api/v1/usage", s.handleUsage)

	// Flat records, search, peers
	protected.HandleFunc("GET /api/v1/files", s.handleFiles)
	protected.HandleFunc("GET /api/v1/search", s.handleSearch)
	protected.HandleFunc("GET /api/v1/peers", s.handlePeers)

	// Peer announcements
	protected.HandleFunc("POST /api/v1/announce", s.handleAnnounce)

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Admin endpoints
	protected.HandleFunc("POST /api/v1/admin/peers/refresh", s.handlePeerRefresh)

	// Wrap protected routes with auth then rate limiter
	authed := s.auth.Middleware(protected)
	getUserID := func(ctx context.Context) (int, bool) {
		claims := auth.GetClaims(ctx)
		if claims == nil {
			return 0, false
		}
		return claims.UserID, true
	}
	rateLimited := ratelimit.Middleware(s.limiter, s.config.RequestsPerMin, getUserID)(authed)
	mux.Handle("/api/v1/", rateLimited)

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── Usage ──────────────────────────────────────────────────────────────────

// handleUsage rebuilds the per-node usage trees from the current flat record
// list. Every call recomputes from scratch; the engine keeps no state.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListFileRecords(r.Context())
	if err != nil {
		logging.Error("failed to load file records", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to load file records")
		return
	}

	start := time.Now()
	nodes := usage.Aggregate(records)
	metrics.RecordUsageAggregation(time.Since(start), len(nodes))
	metrics.SetFileRecords(int64(len(records)))

	resp := protocol.UsageResponse{
		Nodes:       nodes,
		RecordCount: len(records),
		ComputedAt:  time.Now().UTC(),
	}
	s.sendJSON(w, r, resp)
}

// ─── Records ────────────────────────────────────────────────────────────────

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	var records []usage.FileRecord
	var err error

	if nodeHex := r.URL.Query().Get("node"); nodeHex != "" {
		nodeID, decodeErr := hex.DecodeString(nodeHex)
		if decodeErr != nil {
			s.sendError(w, http.StatusBadRequest, "invalid node id: "+decodeErr.Error())
			return
		}
		records, err = s.store.ListNodeFileRecords(r.Context(), nodeID)
	} else {
		records, err = s.store.ListFileRecords(r.Context())
	}
	if err != nil {
		logging.Error("failed to load file records", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to load file records")
		return
	}

	if records == nil {
		records = []usage.FileRecord{}
	}
	s.sendJSON(w, r, protocol.FileListResponse{Files: records, Count: len(records)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.sendError(w, http.StatusBadRequest, "query parameter q required")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if v > 500 {
			v = 500
		}
		limit = v
	}

	records, err := s.store.SearchFiles(r.Context(), query, limit)
	if err != nil {
		logging.Error("search failed", zap.Error(err), zap.String("query", query))
		s.sendError(w, http.StatusInternalServerError, "search failed")
		return
	}

	results := make([]protocol.SearchResult, 0, len(records))
	for _, rec := range records {
		results = append(results, protocol.SearchResult{
			NodeID:      hex.EncodeToString(rec.NodeID),
			NodeName:    rec.NodeName,
			Path:        rec.Path,
			Size:        rec.Size,
			LastChanged: rec.LastChanged,
		})
	}
	s.sendJSON(w, r, protocol.SearchResponse{Query: query, Results: results, Count: len(results)})
}

// ─── Peers ──────────────────────────────────────────────────────────────────

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	list, err := s.peerCache.List(r.Context())
	if err != nil {
		logging.Error("failed to list peers", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to list peers")
		return
	}

	infos := make([]protocol.PeerInfo, 0, len(list))
	for _, p := range list {
		infos = append(infos, protocol.PeerInfo{
			ID:        p.ID,
			Name:      p.Name,
			FileCount: p.FileCount,
			LastSeen:  p.LastSeen,
		})
	}
	s.sendJSON(w, r, protocol.PeerListResponse{Peers: infos, Count: len(infos)})
}

func (s *Server) handlePeerRefresh(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil || !claims.IsAdmin {
		s.sendError(w, http.StatusForbidden, "admin access required")
		return
	}

	s.peerCache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Announce ───────────────────────────────────────────────────────────────

// handleAnnounce accepts a peer's complete file list and replaces the node's
// stored records. Sizes and timestamps are stored as announced; the engine
// aggregates whatever arrives.
func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req protocol.AnnounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAnnounce(false)
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	nodeID, err := hex.DecodeString(req.NodeID)
	if err != nil || len(nodeID) == 0 {
		metrics.RecordAnnounce(false)
		s.sendError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	records := make([]usage.FileRecord, 0, len(req.Files))
	for _, f := range req.Files {
		records = append(records, usage.FileRecord{
			NodeID:      nodeID,
			NodeName:    req.NodeName,
			Path:        f.Path,
			Size:        f.Size,
			LastChanged: f.LastChanged,
		})
	}

	if err := s.store.ReplaceNodeFiles(r.Context(), nodeID, req.NodeName, records); err != nil {
		metrics.RecordAnnounce(false)
		logging.Error("announce failed", zap.Error(err), zap.String("node", req.NodeID))
		s.sendError(w, http.StatusInternalServerError, "failed to store announcement")
		return
	}

	s.peerCache.Invalidate()
	s.broadcaster.Publish(events.Event{Type: events.EventRefresh, NodeID: req.NodeID})

	if count, err := s.store.FileCount(r.Context()); err == nil {
		metrics.SetFileRecords(count)
	}

	metrics.RecordAnnounce(true)
	logging.Info("peer announced",
		zap.String("node", req.NodeID),
		zap.String("name", req.NodeName),
		zap.Int("files", len(records)))

	s.sendJSON(w, r, protocol.AnnounceResponse{NodeID: req.NodeID, Accepted: len(records)})
}

// ─── Events ─────────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(v)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
