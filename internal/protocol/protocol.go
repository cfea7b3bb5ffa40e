// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/meshdrive/meshdrive/internal/usage"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// LoginRequest is the body for POST /api/v1/auth/token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
}

// AnnounceRequest is the body for POST /api/v1/announce: one peer's complete
// current file list. It replaces whatever the server previously held for that
// node.
type AnnounceRequest struct {
	NodeID   string              `json:"node_id"` // hex-encoded
	NodeName string              `json:"node_name,omitempty"`
	Files    []AnnouncedFile     `json:"files"`
}

// AnnouncedFile is one file in an announcement.
type AnnouncedFile struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	LastChanged string `json:"last_changed,omitempty"`
}

// AnnounceResponse is returned by POST /api/v1/announce.
type AnnounceResponse struct {
	NodeID   string `json:"node_id"`
	Accepted int    `json:"accepted"`
}

// FileListResponse is returned by GET /api/v1/files.
type FileListResponse struct {
	Files []usage.FileRecord `json:"files"`
	Count int                `json:"count"`
}

// UsageResponse is returned by GET /api/v1/usage: one tree per node, ordered
// by node name, ready for the dashboard tree widget.
type UsageResponse struct {
	Nodes       []usage.Node `json:"nodes"`
	RecordCount int          `json:"record_count"`
	ComputedAt  time.Time    `json:"computed_at"`
}

// SearchResult is one match from GET /api/v1/search.
type SearchResult struct {
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name,omitempty"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	LastChanged string `json:"last_changed,omitempty"`
}

// SearchResponse is returned by GET /api/v1/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// PeerInfo describes one known peer.
type PeerInfo struct {
	ID        string    `json:"id"` // hex-encoded
	Name      string    `json:"name"`
	FileCount int       `json:"file_count"`
	LastSeen  time.Time `json:"last_seen"`
}

// PeerListResponse is returned by GET /api/v1/peers.
type PeerListResponse struct {
	Peers []PeerInfo `json:"peers"`
	Count int        `json:"count"`
}

// SSEEvent is a server-sent event. The dashboard re-fetches usage on
// "refresh" events.
type SSEEvent struct {
	Type      string `json:"type"`
	NodeID    string `json:"node_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
