package crypt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviousExpired(t *testing.T) {
	km, err := NewKeyManager()
	require.NoError(t, err)

	// No previous keypair: nothing to expire.
	assert.False(t, km.PreviousExpired(0))

	_, err = km.Rotate()
	require.NoError(t, err)

	assert.False(t, km.PreviousExpired(time.Hour))
	assert.True(t, km.PreviousExpired(0), "zero window expires immediately")

	km.DiscardPrevious()
	assert.False(t, km.PreviousExpired(0))
}
