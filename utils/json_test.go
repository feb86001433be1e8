package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsJsonObject(t *testing.T) {
	t.Run("objects are accepted", func(t *testing.T) {
		assert.True(t, IsJsonObject([]byte(`{}`)))
		assert.True(t, IsJsonObject([]byte(`{"layer":1}`)))
		assert.True(t, IsJsonObject([]byte("  {\"name\": \"X\"}\n")))
	})

	t.Run("invalid JSON is rejected", func(t *testing.T) {
		assert.False(t, IsJsonObject(nil))
		assert.False(t, IsJsonObject([]byte(`not json`)))
		assert.False(t, IsJsonObject([]byte(`{`)))
		assert.False(t, IsJsonObject([]byte(`{"a":1}}`)))
	})

	t.Run("non-object values are rejected", func(t *testing.T) {
		assert.False(t, IsJsonObject([]byte(`[1,2,3]`)))
		assert.False(t, IsJsonObject([]byte(`"hello"`)))
		assert.False(t, IsJsonObject([]byte(`42`)))
		assert.False(t, IsJsonObject([]byte(`null`)))
	})
}
