package forest

import (
	"math/bits"
	"sort"

	"github.com/zeebo/blake3"
)

// HAMT geometry: 4 bits of the BLAKE3 key hash per level (16-way branching,
// 16-bit bitmap), leaf buckets of up to 8 entries before splitting.
const (
	hamtBits       = 4
	hamtWidth      = 1 << hamtBits
	hamtBucketSize = 8
	// 32 hash bytes give 64 nibbles; past that buckets grow unbounded,
	// which only happens on a full hash collision.
	hamtMaxDepth = 64
)

// hamtEntry is one key/value pair in a leaf bucket.
type hamtEntry struct {
	Path  string     `cbor:"1,keyasint"`
	Entry *FileEntry `cbor:"2,keyasint"`
}

// hamtNode is either an internal node (Children non-nil, one per set bitmap
// bit) or a leaf bucket (Entries).
type hamtNode struct {
	Bitmap   uint16      `cbor:"1,keyasint"`
	Children []*hamtNode `cbor:"2,keyasint,omitempty"`
	Entries  []hamtEntry `cbor:"3,keyasint,omitempty"`
}

// Hamt is a hash-array-mapped trie keyed by logical path.
type Hamt struct {
	Root  *hamtNode `cbor:"1,keyasint"`
	Count int       `cbor:"2,keyasint"`
}

// NewHamt creates an empty trie.
func NewHamt() *Hamt {
	return &Hamt{Root: &hamtNode{}}
}

func hashPath(path string) [32]byte {
	return blake3.Sum256([]byte(path))
}

// nibbleAt extracts the 4-bit fragment used at the given depth.
func nibbleAt(hash *[32]byte, depth int) int {
	b := hash[(depth/2)%32]
	if depth%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0f)
}

// slotIndex maps a nibble to a position in the compressed child array.
func (n *hamtNode) slotIndex(nibble int) (int, bool) {
	bit := uint16(1) << nibble
	idx := bits.OnesCount16(n.Bitmap & (bit - 1))
	return idx, n.Bitmap&bit != 0
}

func (n *hamtNode) isLeaf() bool { return n.Children == nil }

// Insert adds or replaces the entry at path. Reports whether the path was new.
func (h *Hamt) Insert(path string, entry *FileEntry) bool {
	hash := hashPath(path)
	added := insertNode(h.Root, &hash, 0, path, entry)
	if added {
		h.Count++
	}
	return added
}

func insertNode(n *hamtNode, hash *[32]byte, depth int, path string, entry *FileEntry) bool {
	if n.isLeaf() {
		for i := range n.Entries {
			if n.Entries[i].Path == path {
				n.Entries[i].Entry = entry
				return false
			}
		}
		if len(n.Entries) < hamtBucketSize || depth >= hamtMaxDepth {
			n.Entries = append(n.Entries, hamtEntry{Path: path, Entry: entry})
			return true
		}
		// Bucket overflow: split into an internal node and reinsert.
		old := n.Entries
		n.Entries = nil
		n.Children = []*hamtNode{}
		for _, e := range old {
			eh := hashPath(e.Path)
			insertNode(n, &eh, depth, e.Path, e.Entry)
		}
		return insertNode(n, hash, depth, path, entry)
	}

	nibble := nibbleAt(hash, depth)
	idx, present := n.slotIndex(nibble)
	if !present {
		child := &hamtNode{Entries: []hamtEntry{{Path: path, Entry: entry}}}
		n.Children = append(n.Children, nil)
		copy(n.Children[idx+1:], n.Children[idx:])
		n.Children[idx] = child
		n.Bitmap |= uint16(1) << nibble
		return true
	}
	return insertNode(n.Children[idx], hash, depth+1, path, entry)
}

// Get returns the entry at path, or nil.
func (h *Hamt) Get(path string) *FileEntry {
	hash := hashPath(path)
	n := h.Root
	depth := 0
	for !n.isLeaf() {
		idx, present := n.slotIndex(nibbleAt(&hash, depth))
		if !present {
			return nil
		}
		n = n.Children[idx]
		depth++
	}
	for i := range n.Entries {
		if n.Entries[i].Path == path {
			return n.Entries[i].Entry
		}
	}
	return nil
}

// Remove deletes the entry at path and returns it, or nil.
func (h *Hamt) Remove(path string) *FileEntry {
	hash := hashPath(path)
	removed := removeNode(h.Root, &hash, 0, path)
	if removed != nil {
		h.Count--
	}
	return removed
}

func removeNode(n *hamtNode, hash *[32]byte, depth int, path string) *FileEntry {
	if n.isLeaf() {
		for i := range n.Entries {
			if n.Entries[i].Path == path {
				e := n.Entries[i].Entry
				n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
				return e
			}
		}
		return nil
	}

	nibble := nibbleAt(hash, depth)
	idx, present := n.slotIndex(nibble)
	if !present {
		return nil
	}
	child := n.Children[idx]
	removed := removeNode(child, hash, depth+1, path)
	if removed != nil && child.isLeaf() && len(child.Entries) == 0 {
		n.Children = append(n.Children[:idx], n.Children[idx+1:]...)
		n.Bitmap &^= uint16(1) << nibble
		if n.Children == nil {
			n.Children = []*hamtNode{}
		}
	}
	return removed
}

// Walk visits every entry in unspecified order.
func (h *Hamt) Walk(fn func(path string, entry *FileEntry)) {
	walkNode(h.Root, fn)
}

func walkNode(n *hamtNode, fn func(string, *FileEntry)) {
	if n.isLeaf() {
		for i := range n.Entries {
			fn(n.Entries[i].Path, n.Entries[i].Entry)
		}
		return
	}
	for _, c := range n.Children {
		walkNode(c, fn)
	}
}

// SortedPaths returns every path in lexicographic order, optionally filtered
// by prefix. Iteration is in path order even though the trie is hash-ordered.
func (h *Hamt) SortedPaths(prefix string) []string {
	paths := make([]string, 0, h.Count)
	h.Walk(func(p string, _ *FileEntry) {
		if prefix == "" || hasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	})
	sort.Strings(paths)
	return paths
}

// ToMap flattens the trie into a map.
func (h *Hamt) ToMap() map[string]*FileEntry {
	m := make(map[string]*FileEntry, h.Count)
	h.Walk(func(p string, e *FileEntry) { m[p] = e })
	return m
}

// HamtFromMap builds a trie from a map.
func HamtFromMap(m map[string]*FileEntry) *Hamt {
	h := NewHamt()
	for p, e := range m {
		h.Insert(p, e)
	}
	return h
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
