package usage

import "strings"

// NormalizePath canonicalizes a raw path: backslash separators become forward
// slashes and leading/trailing slashes are stripped. The empty string (also
// produced by all-slash input) denotes a node's root. No other validation is
// performed; arbitrary characters pass through unchanged.
func NormalizePath(raw string) string {
	return strings.Trim(strings.ReplaceAll(raw, `\`, "/"), "/")
}

// ancestorChain returns every prefix of a normalized path from the root to
// the full path inclusive, e.g. "a/b/c.txt" -> ["", "a", "a/b", "a/b/c.txt"].
// The root call returns [""] for an empty path.
func ancestorChain(path string) []string {
	chain := []string{""}
	if path == "" {
		return chain
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			chain = append(chain, path[:i])
		}
	}
	return append(chain, path)
}

// baseName returns the last path segment, or "Root" for the empty path.
func baseName(path string) string {
	if path == "" {
		return "Root"
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
