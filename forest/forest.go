// Package forest implements the private per-bucket index: an encrypted map
// from logical paths to file entries plus the directory shape, stored as a
// single blob under a deterministic key. The server never sees paths, the
// tree, or per-directory file counts.
package forest

import (
	"sort"
	"strings"
	"time"

	"github.com/functionland/fula-storage-go/crypt"
)

// Format identifies the in-memory and on-wire index representation.
type Format uint8

const (
	// FlatMapV1 is a plain map, used below the migration threshold.
	FlatMapV1 Format = 1

	// HamtV2 is the hash-array-mapped-trie representation for large buckets.
	HamtV2 Format = 2
)

// DefaultMigrationThreshold is the file count at which a mutation
// migrates the forest to HamtV2.
const DefaultMigrationThreshold = 1000

// FileEntry is one file in the bucket.
type FileEntry struct {
	Path         string            `cbor:"1,keyasint" json:"path"`
	StorageKey   string            `cbor:"2,keyasint" json:"storage_key"`
	Size         uint64            `cbor:"3,keyasint" json:"size"`
	ContentType  string            `cbor:"4,keyasint,omitempty" json:"content_type,omitempty"`
	CreatedAt    int64             `cbor:"5,keyasint" json:"created_at"`
	ModifiedAt   int64             `cbor:"6,keyasint" json:"modified_at"`
	ContentHash  string            `cbor:"7,keyasint,omitempty" json:"content_hash,omitempty"`
	UserMetadata map[string]string `cbor:"8,keyasint,omitempty" json:"user_metadata,omitempty"`
}

// Filename returns the last path segment.
func (e *FileEntry) Filename() string {
	if idx := strings.LastIndex(e.Path, "/"); idx >= 0 {
		return e.Path[idx+1:]
	}
	return e.Path
}

// ParentDir returns the directory holding this entry ("/" for root files).
func (e *FileEntry) ParentDir() string {
	return parentOf(e.Path)
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// DirectoryEntry records the shape of one directory. Maintained lazily as
// files come and go; SubtreeKeyWrap optionally carries the HPKE-wrapped
// subtree DEK rooted here.
type DirectoryEntry struct {
	Path           string   `cbor:"1,keyasint" json:"path"`
	Files          []string `cbor:"2,keyasint,omitempty" json:"files,omitempty"`
	Subdirs        []string `cbor:"3,keyasint,omitempty" json:"subdirs,omitempty"`
	SubtreeKeyWrap []byte   `cbor:"4,keyasint,omitempty" json:"subtree_key_wrap,omitempty"`
}

// Forest is the decrypted per-bucket index. One exists per loaded bucket
// handle; the blob store only ever holds its ciphertext.
type Forest struct {
	Format      Format                     `cbor:"1,keyasint"`
	Salt        []byte                     `cbor:"2,keyasint"`
	Files       map[string]*FileEntry      `cbor:"3,keyasint,omitempty"`
	Trie        *Hamt                      `cbor:"4,keyasint,omitempty"`
	Directories map[string]*DirectoryEntry `cbor:"5,keyasint"`
	CreatedAt   int64                      `cbor:"6,keyasint"`
	ModifiedAt  int64                      `cbor:"7,keyasint"`

	// migrationThreshold is not serialized; the owning handle sets it from
	// configuration after load.
	migrationThreshold int
}

// New creates an empty FlatMapV1 forest with a fresh salt.
func New() *Forest {
	now := time.Now().Unix()
	f := &Forest{
		Format:             FlatMapV1,
		Salt:               crypt.RandomBytes(SaltSize),
		Files:              make(map[string]*FileEntry),
		Directories:        make(map[string]*DirectoryEntry),
		CreatedAt:          now,
		ModifiedAt:         now,
		migrationThreshold: DefaultMigrationThreshold,
	}
	f.Directories["/"] = &DirectoryEntry{Path: "/"}
	return f
}

// SetMigrationThreshold overrides the HAMT migration threshold.
func (f *Forest) SetMigrationThreshold(n int) {
	if n > 0 {
		f.migrationThreshold = n
	}
}

func (f *Forest) threshold() int {
	if f.migrationThreshold > 0 {
		return f.migrationThreshold
	}
	return DefaultMigrationThreshold
}

// Count returns the number of files.
func (f *Forest) Count() int {
	if f.Format == HamtV2 {
		if f.Trie == nil {
			return 0
		}
		return f.Trie.Count
	}
	return len(f.Files)
}

// TotalSize sums all file sizes.
func (f *Forest) TotalSize() uint64 {
	var total uint64
	f.walk(func(_ string, e *FileEntry) { total += e.Size })
	return total
}

func (f *Forest) touch() { f.ModifiedAt = time.Now().Unix() }

// GenerateKey derives the flat-namespace storage key for a new file.
func (f *Forest) GenerateKey(path string, dek *crypt.DekKey) string {
	return GenerateFlatKey(path, dek, f.Salt)
}

// UpsertFile adds or replaces a file entry, maintains the directory shape,
// and migrates to HamtV2 when the mutation brings the count to the
// threshold.
func (f *Forest) UpsertFile(entry *FileEntry) {
	path := entry.Path
	f.ensureDirectory(parentOf(path))
	dir := f.Directories[parentOf(path)]
	if !containsString(dir.Files, path) {
		dir.Files = append(dir.Files, path)
	}

	switch f.Format {
	case HamtV2:
		if f.Trie == nil {
			f.Trie = NewHamt()
		}
		f.Trie.Insert(path, entry)
	default:
		f.Files[path] = entry
		if len(f.Files) >= f.threshold() {
			f.MigrateToHamt()
		}
	}
	f.touch()
}

// GetFile returns the entry at path, or nil.
func (f *Forest) GetFile(path string) *FileEntry {
	if f.Format == HamtV2 {
		if f.Trie == nil {
			return nil
		}
		return f.Trie.Get(path)
	}
	return f.Files[path]
}

// StorageKey resolves a logical path to its obfuscated storage key.
func (f *Forest) StorageKey(path string) (string, error) {
	e := f.GetFile(path)
	if e == nil {
		return "", ErrNotFound
	}
	return e.StorageKey, nil
}

// RemoveFile deletes the entry at path and prunes it from its directory.
// Returns the removed entry, or nil.
func (f *Forest) RemoveFile(path string) *FileEntry {
	var entry *FileEntry
	if f.Format == HamtV2 {
		if f.Trie != nil {
			entry = f.Trie.Remove(path)
		}
	} else {
		entry = f.Files[path]
		delete(f.Files, path)
	}
	if entry == nil {
		return nil
	}

	if dir := f.Directories[parentOf(path)]; dir != nil {
		dir.Files = removeString(dir.Files, path)
	}
	f.touch()
	return entry
}

// FindByStorageKey scans for the entry stored under key. Linear; used by
// administrative tooling, not the read path.
func (f *Forest) FindByStorageKey(key string) *FileEntry {
	var found *FileEntry
	f.walk(func(_ string, e *FileEntry) {
		if e.StorageKey == key {
			found = e
		}
	})
	return found
}

// ensureDirectory creates dir and any missing ancestors, linking each into
// its parent's subdir list.
func (f *Forest) ensureDirectory(path string) {
	if path == "" || path == "/" {
		if _, ok := f.Directories["/"]; !ok {
			f.Directories["/"] = &DirectoryEntry{Path: "/"}
		}
		return
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if _, ok := f.Directories[path]; ok {
		return
	}

	f.Directories[path] = &DirectoryEntry{Path: path}

	parent := parentOf(path)
	f.ensureDirectory(parent)
	pd := f.Directories[parent]
	if !containsString(pd.Subdirs, path) {
		pd.Subdirs = append(pd.Subdirs, path)
	}
}

// walk visits every file entry in unspecified order.
func (f *Forest) walk(fn func(path string, e *FileEntry)) {
	if f.Format == HamtV2 {
		if f.Trie != nil {
			f.Trie.Walk(fn)
		}
		return
	}
	for p, e := range f.Files {
		fn(p, e)
	}
}

// SortedPaths returns all file paths under prefix in lexicographic order.
func (f *Forest) SortedPaths(prefix string) []string {
	if f.Format == HamtV2 {
		if f.Trie == nil {
			return nil
		}
		return f.Trie.SortedPaths(prefix)
	}
	paths := make([]string, 0, len(f.Files))
	for p := range f.Files {
		if prefix == "" || strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// ListRecursive returns every entry under prefix in path order.
func (f *Forest) ListRecursive(prefix string) []*FileEntry {
	paths := f.SortedPaths(prefix)
	out := make([]*FileEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, f.GetFile(p))
	}
	return out
}

// Listing is one page of a directory listing: the direct entries plus the
// delimiter-collapsed common prefixes, both lexicographic.
type Listing struct {
	Entries        []*FileEntry
	CommonPrefixes []string
	NextAfter      string
	Truncated      bool
}

// ListDirectory lists the minimum set of entries and common prefixes for
// prefix, grouped by delimiter, paginated by startAfter/max.
func (f *Forest) ListDirectory(prefix, delimiter, startAfter string, max int) *Listing {
	if max <= 0 {
		max = 1000
	}

	paths := f.SortedPaths(prefix)
	out := &Listing{}
	seen := make(map[string]bool)
	var last string

	for _, p := range paths {
		if startAfter != "" && p <= startAfter {
			continue
		}

		name := p
		isCommon := false
		if delimiter != "" {
			rest := p[len(prefix):]
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				name = prefix + rest[:idx+len(delimiter)]
				isCommon = true
			}
		}

		if isCommon {
			if seen[name] {
				continue
			}
			seen[name] = true
		}

		if len(out.Entries)+len(out.CommonPrefixes) >= max {
			out.Truncated = true
			out.NextAfter = last
			return out
		}
		if isCommon {
			out.CommonPrefixes = append(out.CommonPrefixes, name)
		} else {
			out.Entries = append(out.Entries, f.GetFile(p))
		}
		last = p
	}
	return out
}

// MigrateToHamt converts a FlatMapV1 forest to HamtV2 in place. No-op when
// already migrated.
func (f *Forest) MigrateToHamt() {
	if f.Format == HamtV2 {
		return
	}
	f.Trie = HamtFromMap(f.Files)
	f.Files = nil
	f.Format = HamtV2
	f.touch()
}

// MigrateToFlat converts back to the map representation.
func (f *Forest) MigrateToFlat() {
	if f.Format == FlatMapV1 {
		return
	}
	if f.Trie != nil {
		f.Files = f.Trie.ToMap()
	} else {
		f.Files = make(map[string]*FileEntry)
	}
	f.Trie = nil
	f.Format = FlatMapV1
	f.touch()
}

// ExtractSubtree copies all entries under prefix into a new forest with the
// same salt, for sharing an index portion.
func (f *Forest) ExtractSubtree(prefix string) *Forest {
	sub := New()
	sub.Salt = append([]byte(nil), f.Salt...)
	for _, p := range f.SortedPaths(prefix) {
		e := f.GetFile(p)
		cp := *e
		sub.UpsertFile(&cp)
	}
	return sub
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
