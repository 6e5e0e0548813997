package synctree

import (
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// RootPath is the sentinel logical path of the tree root.
const RootPath = "/"

// Normalize cleans a logical path into canonical slash form with a
// single leading slash ("/a/b"). Empty, "." and "/" all normalize to
// the root path.
func Normalize(p string) string {
	if p == "" || p == "." {
		return RootPath
	}
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	if p == "." {
		return RootPath
	}
	return p
}

// Join joins a parent path and a child name into a normalized path.
func Join(parent, name string) string {
	return Normalize(path.Join(Normalize(parent), name))
}

// Split splits a normalized path into its parent directory and base
// name. The root path splits into ("/", "").
func Split(p string) (dir, name string) {
	p = Normalize(p)
	if p == RootPath {
		return RootPath, ""
	}
	dir, name = path.Split(p)
	return Normalize(dir), name
}

// Collators are not safe for concurrent use.
var (
	collMu sync.Mutex
	coll   = collate.New(language.Und, collate.IgnoreCase)
)

// CompareNames compares two entry names case-insensitively using
// locale-aware collation. It returns -1, 0 or +1.
func CompareNames(a, b string) int {
	collMu.Lock()
	defer collMu.Unlock()
	return coll.CompareString(a, b)
}

// SortNames sorts names in place using CompareNames.
func SortNames(names []string) {
	collMu.Lock()
	defer collMu.Unlock()
	sort.Slice(names, func(i, j int) bool {
		return coll.CompareString(names[i], names[j]) < 0
	})
}
