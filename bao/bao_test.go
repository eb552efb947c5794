package bao

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 1024

func patternData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 ^ i>>8)
	}
	return data
}

func TestEncodeVerify(t *testing.T) {
	data := patternData(10*testChunkSize + 100)
	o := Encode(data, testChunkSize)

	assert.Equal(t, uint64(len(data)), o.ContentLength)
	assert.Len(t, o.Leaves, 11)
	require.NoError(t, Verify(data, o, testChunkSize))
}

func TestSingleChunkRootIsLeaf(t *testing.T) {
	data := patternData(100)
	o := Encode(data, testChunkSize)

	require.Len(t, o.Leaves, 1)
	assert.Equal(t, o.Leaves[0], o.Root)
}

func TestVerifyFailsOnCorruption(t *testing.T) {
	data := patternData(5 * testChunkSize)
	o := Encode(data, testChunkSize)

	corrupted := bytes.Clone(data)
	corrupted[3*testChunkSize+7] ^= 0x01
	assert.ErrorIs(t, Verify(corrupted, o, testChunkSize), ErrMismatch)
}

func TestVerifyChunk(t *testing.T) {
	data := patternData(4 * testChunkSize)
	o := Encode(data, testChunkSize)

	require.NoError(t, o.VerifyChunk(2, data[2*testChunkSize:3*testChunkSize]))

	bad := bytes.Clone(data[2*testChunkSize : 3*testChunkSize])
	bad[0] ^= 0xff
	assert.ErrorIs(t, o.VerifyChunk(2, bad), ErrMismatch)

	// Right bytes, wrong position.
	assert.ErrorIs(t, o.VerifyChunk(1, data[2*testChunkSize:3*testChunkSize]), ErrMismatch)

	assert.ErrorIs(t, o.VerifyChunk(4, data[:testChunkSize]), ErrChunkIndex)
}

func TestOutboardTamperDetectedByRoot(t *testing.T) {
	data := patternData(6 * testChunkSize)
	o := Encode(data, testChunkSize)
	root := o.Root

	// An attacker swapping a leaf cannot keep the committed root.
	o.Leaves[1], o.Leaves[2] = o.Leaves[2], o.Leaves[1]
	assert.ErrorIs(t, o.VerifyAgainstRoot(root), ErrMismatch)
}

func TestOutboardSerializationRoundtrip(t *testing.T) {
	data := patternData(3*testChunkSize + 17)
	o := Encode(data, testChunkSize)

	restored, err := OutboardFromBytes(o.Bytes())
	require.NoError(t, err)

	assert.Equal(t, o.ContentLength, restored.ContentLength)
	assert.Equal(t, o.Root, restored.Root)
	assert.Equal(t, o.Leaves, restored.Leaves)
	require.NoError(t, restored.VerifyAgainstRoot(o.Root))
}

func TestOutboardFromBytesMalformed(t *testing.T) {
	_, err := OutboardFromBytes(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = OutboardFromBytes(make([]byte, 8+HashSize+5))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestIncrementalMatchesOneShot(t *testing.T) {
	data := patternData(7*testChunkSize + 300)

	enc := NewEncoder()
	for off := 0; off < len(data); off += testChunkSize {
		end := off + testChunkSize
		if end > len(data) {
			end = len(data)
		}
		enc.WriteChunk(data[off:end])
	}
	o1 := enc.Finalize()
	o2 := Encode(data, testChunkSize)

	assert.Equal(t, o2.Root, o1.Root)
	assert.Equal(t, o2.Leaves, o1.Leaves)
}

func TestVerifyLengthMismatch(t *testing.T) {
	data := patternData(2 * testChunkSize)
	o := Encode(data, testChunkSize)
	assert.ErrorIs(t, Verify(data[:len(data)-1], o, testChunkSize), ErrMismatch)
}
