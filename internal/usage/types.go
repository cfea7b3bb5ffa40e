// Package usage computes hierarchical storage-usage rollups for the
// dashboard. It is a pure transform: a flat list of per-file records, each
// tagged with the owning peer node and a path, becomes one tree of
// directory-like aggregates per node, with recursive size/count/recency
// rollups and percentage shares relative to the immediate parent.
//
// The engine holds no state between calls and performs no I/O; callers fetch
// the record list themselves and rebuild the trees on every invocation.
package usage

// FileRecord is one physical file as announced by a peer. NodeID is an opaque
// byte sequence; Path arrives unnormalized (any separator style, optional
// leading/trailing slashes). LastChanged is an optional timestamp string that
// is assumed to sort correctly as a plain string (zero-padded ISO-8601).
type FileRecord struct {
	NodeID      []byte `json:"node_id"`
	NodeName    string `json:"node_name,omitempty"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	LastChanged string `json:"last_changed,omitempty"`
}

// Entry is one element of a node's usage tree: either a directory-like path
// prefix or a full file path. Size, ItemCount and LastChanged aggregate over
// every file at or strictly below the entry's path. Percent is the entry's
// share of its immediate parent's size, not of the node total.
type Entry struct {
	Path        string   `json:"path"`
	Name        string   `json:"name"`
	Size        int64    `json:"size"`
	ItemCount   int      `json:"itemCount"`
	LastChanged string   `json:"lastChanged,omitempty"`
	Percent     float64  `json:"percent"`
	Children    []*Entry `json:"children"`
}

// Node is one peer's usage tree. ID is the hex-encoded node identifier,
// TotalSize the aggregated size of everything the node holds, and Entries the
// top-level children of the node's root (the root itself is never emitted).
type Node struct {
	Name      string   `json:"name"`
	ID        string   `json:"id"`
	TotalSize int64    `json:"totalSize"`
	Entries   []*Entry `json:"entries"`
}
