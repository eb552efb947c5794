package forest

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHamtInsertGet(t *testing.T) {
	h := NewHamt()
	for i := 0; i < 500; i++ {
		path := fmt.Sprintf("/dir/file_%d.txt", i)
		added := h.Insert(path, testEntry(path, uint64(i)))
		assert.True(t, added)
	}
	assert.Equal(t, 500, h.Count)

	for i := 0; i < 500; i++ {
		path := fmt.Sprintf("/dir/file_%d.txt", i)
		e := h.Get(path)
		require.NotNil(t, e, "missing %s", path)
		assert.Equal(t, uint64(i), e.Size)
	}
	assert.Nil(t, h.Get("/dir/absent.txt"))
}

func TestHamtReplace(t *testing.T) {
	h := NewHamt()
	require.True(t, h.Insert("/f", testEntry("/f", 1)))
	require.False(t, h.Insert("/f", testEntry("/f", 2)), "replacement is not an addition")
	assert.Equal(t, 1, h.Count)
	assert.Equal(t, uint64(2), h.Get("/f").Size)
}

func TestHamtRemove(t *testing.T) {
	h := NewHamt()
	for i := 0; i < 100; i++ {
		path := fmt.Sprintf("/f%d", i)
		h.Insert(path, testEntry(path, uint64(i)))
	}

	removed := h.Remove("/f42")
	require.NotNil(t, removed)
	assert.Equal(t, uint64(42), removed.Size)
	assert.Equal(t, 99, h.Count)
	assert.Nil(t, h.Get("/f42"))
	assert.Nil(t, h.Remove("/f42"))

	// Everything else survives.
	for i := 0; i < 100; i++ {
		if i == 42 {
			continue
		}
		require.NotNil(t, h.Get(fmt.Sprintf("/f%d", i)))
	}
}

func TestHamtSortedPaths(t *testing.T) {
	h := NewHamt()
	var want []string
	for i := 0; i < 200; i++ {
		path := fmt.Sprintf("/p/%03d", i)
		want = append(want, path)
		h.Insert(path, testEntry(path, 1))
	}
	sort.Strings(want)

	assert.Equal(t, want, h.SortedPaths(""))
	assert.Equal(t, want, h.SortedPaths("/p/"))
	assert.Empty(t, h.SortedPaths("/q/"))
}

func TestHamtMapRoundtrip(t *testing.T) {
	m := make(map[string]*FileEntry)
	for i := 0; i < 300; i++ {
		path := fmt.Sprintf("/r/%d", i)
		m[path] = testEntry(path, uint64(i))
	}

	h := HamtFromMap(m)
	assert.Equal(t, 300, h.Count)

	back := h.ToMap()
	require.Len(t, back, 300)
	for path, e := range m {
		require.NotNil(t, back[path])
		assert.Equal(t, e.Size, back[path].Size)
	}
}
