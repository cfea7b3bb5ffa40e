// Package peers provides the known-peer list with a short-lived cache. The
// cache is an explicit object owned by the server, with an explicit
// Invalidate operation; nothing in this package is process-wide state.
package peers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshdrive/meshdrive/internal/metrics"
)

// Peer describes one known peer node.
type Peer struct {
	ID        string // hex-encoded node identifier
	Name      string
	FileCount int
	LastSeen  time.Time
}

// Lister loads the current peer list from the record store.
type Lister interface {
	ListPeers(ctx context.Context) ([]Peer, error)
}

// Cache caches the peer list for a bounded interval so a dashboard refresh
// loop does not hammer the store.
type Cache struct {
	lister Lister
	ttl    time.Duration

	mu        sync.Mutex
	peers     []Peer
	fetchedAt time.Time
}

// NewCache creates a peer cache. ttl <= 0 disables caching entirely.
func NewCache(lister Lister, ttl time.Duration) *Cache {
	return &Cache{lister: lister, ttl: ttl}
}

// List returns the peer list, refreshing from the store when the cached copy
// is stale. Callers receive their own copy of the slice.
func (c *Cache) List(ctx context.Context) ([]Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peers != nil && c.ttl > 0 && time.Since(c.fetchedAt) < c.ttl {
		metrics.RecordPeerCacheLookup(true)
		return copyPeers(c.peers), nil
	}
	metrics.RecordPeerCacheLookup(false)

	peers, err := c.lister.ListPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	if peers == nil {
		peers = []Peer{}
	}
	c.peers = peers
	c.fetchedAt = time.Now()
	return copyPeers(peers), nil
}

// Invalidate discards the cached copy; the next List hits the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.peers = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func copyPeers(peers []Peer) []Peer {
	out := make([]Peer, len(peers))
	copy(out, peers)
	return out
}
