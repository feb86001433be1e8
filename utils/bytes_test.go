package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinBytes(t *testing.T) {
	t.Run("concatenates in order", func(t *testing.T) {
		assert.Equal(t, []byte("headerbody"), JoinBytes([]byte("head"), []byte("er"), []byte("body")))
	})

	t.Run("nil parts are skipped", func(t *testing.T) {
		assert.Equal(t, []byte("a"), JoinBytes(nil, []byte("a"), nil))
	})

	t.Run("no parts gives empty slice", func(t *testing.T) {
		assert.Empty(t, JoinBytes())
	})
}

func TestSplitChunks(t *testing.T) {
	t.Run("cycles sizes", func(t *testing.T) {
		got := SplitChunks([]byte("abcdefg"), 1, 2)
		assert.Equal(t, [][]byte{[]byte("a"), []byte("bc"), []byte("d"), []byte("ef"), []byte("g")}, got)
	})

	t.Run("no sizes returns whole input", func(t *testing.T) {
		assert.Equal(t, [][]byte{[]byte("abc")}, SplitChunks([]byte("abc")))
	})

	t.Run("oversized chunk is clamped", func(t *testing.T) {
		assert.Equal(t, [][]byte{[]byte("abc")}, SplitChunks([]byte("abc"), 10))
	})
}
