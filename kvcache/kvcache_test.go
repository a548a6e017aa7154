package kvcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityAndAdvance(t *testing.T) {
	c := &Cache{maxSequenceLength: 4}

	for i := 0; i < 4; i++ {
		require.NoErrorf(t, c.CheckCapacity(), "unexpected error at position %d", i)
		c.Advance()
	}

	assert.ErrorIs(t, c.CheckCapacity(), ErrPositionExhausted)
}

func TestReset(t *testing.T) {
	c := &Cache{maxSequenceLength: 4, currentPosition: 3}
	c.Reset()
	assert.Equal(t, uint32(0), c.CurrentPosition())
}
