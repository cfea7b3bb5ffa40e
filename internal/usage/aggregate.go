package usage

import (
	"encoding/hex"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// pathStats accumulates the rollup for one normalized path.
type pathStats struct {
	size        int64
	itemCount   int
	lastChanged string
}

// nodeGroup is one node's working set: its identity and the records it owns.
type nodeGroup struct {
	id    string // hex-encoded node identifier
	name  string // first non-empty display name seen, "" if none
	files []FileRecord
}

// Aggregate turns the flat record list into one usage tree per node, ordered
// by node name. Empty input produces an empty (non-nil) slice. The result is
// fully rebuilt on every call; nothing is shared between invocations.
func Aggregate(records []FileRecord) []Node {
	groups := groupByNode(records)

	nodes := make([]Node, 0, len(groups))
	for _, g := range groups {
		nodes = append(nodes, assembleNode(g))
	}

	coll := collate.New(language.Und)
	sort.SliceStable(nodes, func(i, j int) bool {
		return coll.CompareString(nodes[i].Name, nodes[j].Name) < 0
	})
	return nodes
}

// groupByNode partitions records by node identifier, preserving first-seen
// node order and keeping every record exactly once. Identifiers are compared
// by value via their hex encoding.
func groupByNode(records []FileRecord) []*nodeGroup {
	byID := make(map[string]*nodeGroup)
	var order []*nodeGroup

	for _, rec := range records {
		key := hex.EncodeToString(rec.NodeID)
		g, ok := byID[key]
		if !ok {
			g = &nodeGroup{id: key}
			byID[key] = g
			order = append(order, g)
		}
		if g.name == "" && rec.NodeName != "" {
			g.name = rec.NodeName
		}
		g.files = append(g.files, rec)
	}
	return order
}

// accumulate walks each file's ancestor chain once, updating the per-path
// rollup at every chain element and recording deduplicated parent->child
// edges in discovery order. Two files with an identical normalized path merge
// into the same rollup. Runs in O(total path depth) with no recursion.
func accumulate(files []FileRecord) (map[string]*pathStats, map[string][]string) {
	stats := make(map[string]*pathStats)
	children := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	for _, f := range files {
		chain := ancestorChain(NormalizePath(f.Path))

		for _, p := range chain {
			st, ok := stats[p]
			if !ok {
				st = &pathStats{}
				stats[p] = st
			}
			st.size += f.Size
			st.itemCount++
			// String-order max; an absent timestamp loses to any present one.
			if f.LastChanged != "" && f.LastChanged > st.lastChanged {
				st.lastChanged = f.LastChanged
			}
		}

		for i := 0; i+1 < len(chain); i++ {
			parent, child := chain[i], chain[i+1]
			set := seen[parent]
			if set == nil {
				set = make(map[string]bool)
				seen[parent] = set
			}
			if !set[child] {
				set[child] = true
				children[parent] = append(children[parent], child)
			}
		}
	}
	return stats, children
}

// buildEntries emits the sorted child entries of parentPath. parentSize is
// the immediate parent's aggregated size: it is the percent denominator here
// and each child's own size becomes the denominator one level down. Recursion
// terminates because paths strictly lengthen along every edge.
func buildEntries(parentPath string, parentSize int64, stats map[string]*pathStats, children map[string][]string) []*Entry {
	paths := children[parentPath]
	if len(paths) == 0 {
		return nil
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.SliceStable(sorted, func(i, j int) bool {
		return stats[sorted[i]].size > stats[sorted[j]].size
	})

	entries := make([]*Entry, 0, len(sorted))
	for _, p := range sorted {
		st := stats[p]
		var percent float64
		if parentSize > 0 {
			percent = float64(st.size) / float64(parentSize) * 100
		}
		entries = append(entries, &Entry{
			Path:        p,
			Name:        baseName(p),
			Size:        st.size,
			ItemCount:   st.itemCount,
			LastChanged: st.lastChanged,
			Percent:     percent,
			Children:    buildEntries(p, st.size, stats, children),
		})
	}
	return entries
}

// assembleNode aggregates one group and wraps its tree as a Node. A group
// always holds at least one file, but a missing root rollup is tolerated and
// yields an empty tree.
func assembleNode(g *nodeGroup) Node {
	stats, children := accumulate(g.files)

	root := stats[""]
	if root == nil {
		root = &pathStats{}
	}

	name := g.name
	if name == "" {
		name = g.id
	}

	return Node{
		Name:      name,
		ID:        g.id,
		TotalSize: root.size,
		Entries:   buildEntries("", root.size, stats, children),
	}
}
