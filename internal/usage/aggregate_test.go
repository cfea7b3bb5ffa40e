package usage

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

var nodeA = []byte{0x01, 0x02}

func rec(path string, size int64) FileRecord {
	return FileRecord{NodeID: nodeA, NodeName: "alpha", Path: path, Size: size}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregateEmpty(t *testing.T) {
	nodes := Aggregate(nil)
	if len(nodes) != 0 {
		t.Fatalf("Aggregate(nil) returned %d nodes, want 0", len(nodes))
	}
	nodes = Aggregate([]FileRecord{})
	if len(nodes) != 0 {
		t.Fatalf("Aggregate(empty) returned %d nodes, want 0", len(nodes))
	}
}

func TestAggregateConcreteScenario(t *testing.T) {
	nodes := Aggregate([]FileRecord{
		rec("a/b.txt", 100),
		rec("a/c.txt", 300),
		rec("d.txt", 50),
	})
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}

	n := nodes[0]
	if n.Name != "alpha" || n.ID != "0102" {
		t.Errorf("node = %q/%q, want alpha/0102", n.Name, n.ID)
	}
	if n.TotalSize != 450 {
		t.Errorf("TotalSize = %d, want 450", n.TotalSize)
	}
	if len(n.Entries) != 2 {
		t.Fatalf("got %d top-level entries, want 2", len(n.Entries))
	}

	a, d := n.Entries[0], n.Entries[1]
	if a.Path != "a" || d.Path != "d.txt" {
		t.Fatalf("top-level order = [%q, %q], want [a, d.txt]", a.Path, d.Path)
	}
	if a.Size != 400 || a.ItemCount != 2 {
		t.Errorf("entry a: size=%d count=%d, want 400/2", a.Size, a.ItemCount)
	}
	if !almostEqual(a.Percent, 400.0/450.0*100) {
		t.Errorf("entry a percent = %v", a.Percent)
	}
	if d.Size != 50 || d.ItemCount != 1 {
		t.Errorf("entry d.txt: size=%d count=%d, want 50/1", d.Size, d.ItemCount)
	}
	if !almostEqual(d.Percent, 50.0/450.0*100) {
		t.Errorf("entry d.txt percent = %v", d.Percent)
	}
	if len(d.Children) != 0 {
		t.Errorf("d.txt should have no children, got %d", len(d.Children))
	}

	if len(a.Children) != 2 {
		t.Fatalf("entry a: got %d children, want 2", len(a.Children))
	}
	c, b := a.Children[0], a.Children[1]
	if c.Path != "a/c.txt" || b.Path != "a/b.txt" {
		t.Fatalf("children of a = [%q, %q], want [a/c.txt, a/b.txt]", c.Path, b.Path)
	}
	if c.Name != "c.txt" || b.Name != "b.txt" {
		t.Errorf("child names = %q, %q", c.Name, b.Name)
	}
	// Percent is relative to the immediate parent, not the node total.
	if !almostEqual(c.Percent, 75.0) {
		t.Errorf("a/c.txt percent = %v, want 75", c.Percent)
	}
	if !almostEqual(b.Percent, 25.0) {
		t.Errorf("a/b.txt percent = %v, want 25", b.Percent)
	}
}

func TestAggregateMergeDuplicatePaths(t *testing.T) {
	nodes := Aggregate([]FileRecord{
		rec("x.txt", 10),
		rec("x.txt", 15),
	})
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	n := nodes[0]
	if len(n.Entries) != 1 {
		t.Fatalf("got %d entries, want single merged entry", len(n.Entries))
	}
	e := n.Entries[0]
	if e.Path != "x.txt" || e.Size != 25 || e.ItemCount != 2 {
		t.Errorf("merged entry = {%q %d %d}, want {x.txt 25 2}", e.Path, e.Size, e.ItemCount)
	}
	if !almostEqual(e.Percent, 100.0) {
		t.Errorf("only child percent = %v, want 100", e.Percent)
	}
}

// checkEntry verifies the recursive-sum, count, percent and sort-order
// invariants for an entry and everything beneath it.
func checkEntry(t *testing.T, e *Entry, parentSize int64, files []FileRecord) {
	t.Helper()

	var wantSize int64
	wantCount := 0
	for _, f := range files {
		p := NormalizePath(f.Path)
		if p == e.Path || strings.HasPrefix(p, e.Path+"/") {
			wantSize += f.Size
			wantCount++
		}
	}
	if e.Size != wantSize {
		t.Errorf("entry %q size = %d, want %d", e.Path, e.Size, wantSize)
	}
	if e.ItemCount != wantCount {
		t.Errorf("entry %q itemCount = %d, want %d", e.Path, e.ItemCount, wantCount)
	}

	wantPercent := 0.0
	if parentSize > 0 {
		wantPercent = float64(e.Size) / float64(parentSize) * 100
	}
	if !almostEqual(e.Percent, wantPercent) {
		t.Errorf("entry %q percent = %v, want %v", e.Path, e.Percent, wantPercent)
	}

	for i := 1; i < len(e.Children); i++ {
		if e.Children[i].Size > e.Children[i-1].Size {
			t.Errorf("entry %q children not sorted by descending size at %d", e.Path, i)
		}
	}
	for _, child := range e.Children {
		checkEntry(t, child, e.Size, files)
	}
}

func TestAggregateInvariants(t *testing.T) {
	idA := []byte{0xaa}
	idB := []byte{0xbb, 0xcc}
	files := []FileRecord{
		{NodeID: idA, NodeName: "ant", Path: "docs/report.pdf", Size: 120, LastChanged: "2024-01-15T10:00:00Z"},
		{NodeID: idA, NodeName: "ant", Path: "docs/img/logo.png", Size: 30, LastChanged: "2024-03-02T08:30:00Z"},
		{NodeID: idA, NodeName: "ant", Path: "docs/img/banner.png", Size: 70},
		{NodeID: idA, NodeName: "ant", Path: "music/song.mp3", Size: 5000, LastChanged: "2023-12-31T23:59:59Z"},
		{NodeID: idA, NodeName: "ant", Path: "readme.txt", Size: 1},
		{NodeID: idB, NodeName: "bee", Path: "backup/2024/db.dump", Size: 9000, LastChanged: "2024-06-01T00:00:00Z"},
		{NodeID: idB, NodeName: "bee", Path: "backup/2024/db.dump", Size: 100, LastChanged: "2024-05-01T00:00:00Z"},
		{NodeID: idB, NodeName: "bee", Path: "notes.md", Size: 2},
	}

	nodes := Aggregate(files)
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
	if nodes[0].Name != "ant" || nodes[1].Name != "bee" {
		t.Fatalf("node order = [%q, %q], want [ant, bee]", nodes[0].Name, nodes[1].Name)
	}

	for _, n := range nodes {
		// Conservation: totalSize equals the sum over exactly this node's files.
		var want int64
		var nodeFiles []FileRecord
		for _, f := range files {
			if n.ID == "aa" && f.NodeName == "ant" || n.ID == "bbcc" && f.NodeName == "bee" {
				want += f.Size
				nodeFiles = append(nodeFiles, f)
			}
		}
		if n.TotalSize != want {
			t.Errorf("node %q totalSize = %d, want %d", n.Name, n.TotalSize, want)
		}
		for _, e := range n.Entries {
			checkEntry(t, e, n.TotalSize, nodeFiles)
		}
	}
}

func TestAggregateLastChanged(t *testing.T) {
	id := []byte{0x01}
	nodes := Aggregate([]FileRecord{
		{NodeID: id, Path: "a/x", Size: 1, LastChanged: "2024-02-01T00:00:00Z"},
		{NodeID: id, Path: "a/y", Size: 1, LastChanged: "2024-05-01T00:00:00Z"},
		{NodeID: id, Path: "a/z", Size: 1},
	})
	a := nodes[0].Entries[0]
	if a.Path != "a" {
		t.Fatalf("top entry = %q, want a", a.Path)
	}
	// String-order max among contributing files; the timestamp-less file
	// never wins.
	if a.LastChanged != "2024-05-01T00:00:00Z" {
		t.Errorf("lastChanged = %q, want 2024-05-01T00:00:00Z", a.LastChanged)
	}
	for _, child := range a.Children {
		if child.Path == "a/z" && child.LastChanged != "" {
			t.Errorf("a/z lastChanged = %q, want unset", child.LastChanged)
		}
	}
}

func TestAggregateStableTieOrder(t *testing.T) {
	id := []byte{0x01}
	nodes := Aggregate([]FileRecord{
		{NodeID: id, Path: "first.bin", Size: 10},
		{NodeID: id, Path: "second.bin", Size: 10},
		{NodeID: id, Path: "third.bin", Size: 10},
	})
	got := []string{}
	for _, e := range nodes[0].Entries {
		got = append(got, e.Path)
	}
	want := []string{"first.bin", "second.bin", "third.bin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("equal-size entries reordered: got %v, want %v", got, want)
	}
}

func TestAggregateZeroSizes(t *testing.T) {
	id := []byte{0x01}
	nodes := Aggregate([]FileRecord{
		{NodeID: id, Path: "a/empty.txt", Size: 0},
	})
	n := nodes[0]
	if n.TotalSize != 0 {
		t.Fatalf("totalSize = %d, want 0", n.TotalSize)
	}
	// Zero parent size yields zero percent, not NaN.
	a := n.Entries[0]
	if a.Percent != 0 {
		t.Errorf("percent with zero parent = %v, want 0", a.Percent)
	}
	if a.Children[0].Percent != 0 {
		t.Errorf("child percent with zero parent = %v, want 0", a.Children[0].Percent)
	}
}

func TestAggregateNameFallback(t *testing.T) {
	nodes := Aggregate([]FileRecord{
		{NodeID: []byte{0xde, 0xad}, Path: "f", Size: 1},
	})
	if nodes[0].Name != "dead" {
		t.Errorf("name fallback = %q, want hex id dead", nodes[0].Name)
	}

	// First non-empty name wins, even when a later record disagrees.
	nodes = Aggregate([]FileRecord{
		{NodeID: []byte{0x01}, Path: "f", Size: 1},
		{NodeID: []byte{0x01}, NodeName: "late-name", Path: "g", Size: 1},
		{NodeID: []byte{0x01}, NodeName: "other", Path: "h", Size: 1},
	})
	if nodes[0].Name != "late-name" {
		t.Errorf("name = %q, want late-name", nodes[0].Name)
	}
}

func TestAggregateBackslashPaths(t *testing.T) {
	id := []byte{0x01}
	nodes := Aggregate([]FileRecord{
		{NodeID: id, Path: `a\b.txt`, Size: 10},
		{NodeID: id, Path: "a/b.txt", Size: 5},
	})
	n := nodes[0]
	if len(n.Entries) != 1 {
		t.Fatalf("got %d entries, want 1 (separator styles must merge)", len(n.Entries))
	}
	b := n.Entries[0].Children[0]
	if b.Path != "a/b.txt" || b.Size != 15 || b.ItemCount != 2 {
		t.Errorf("merged entry = {%q %d %d}, want {a/b.txt 15 2}", b.Path, b.Size, b.ItemCount)
	}
}

func TestAggregateRootOnlyPath(t *testing.T) {
	id := []byte{0x01}
	nodes := Aggregate([]FileRecord{
		{NodeID: id, Path: "/", Size: 42},
	})
	n := nodes[0]
	if n.TotalSize != 42 {
		t.Errorf("totalSize = %d, want 42", n.TotalSize)
	}
	// The root itself is never emitted as an entry.
	if len(n.Entries) != 0 {
		t.Errorf("got %d entries for root-only file, want 0", len(n.Entries))
	}
}

func TestAggregateIdempotence(t *testing.T) {
	files := []FileRecord{
		{NodeID: []byte{0x02}, NodeName: "n2", Path: "a/b/c", Size: 7, LastChanged: "2024-01-01"},
		{NodeID: []byte{0x01}, NodeName: "n1", Path: "x/y", Size: 3},
		{NodeID: []byte{0x02}, NodeName: "n2", Path: "a/d", Size: 7},
	}
	first := Aggregate(files)
	second := Aggregate(files)
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated aggregation of the same input produced different trees")
	}
}
