package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitedBuffer(t *testing.T) {
	t.Run("Unbounded", func(t *testing.T) {
		b := &limitedBuffer{}
		b.WriteString("hello ")
		b.WriteString("world")
		assert.Equal(t, "hello world", b.String())
	})

	t.Run("WithinLimit", func(t *testing.T) {
		b := &limitedBuffer{limit: 5}
		b.WriteString("hello")
		assert.Equal(t, "hello", b.String())
	})

	t.Run("Truncated", func(t *testing.T) {
		b := &limitedBuffer{limit: 5}
		n, err := b.Write([]byte("hello world"))
		assert.NoError(t, err)
		assert.Equal(t, 11, n)
		b.WriteString("more")
		assert.Equal(t, "hello"+truncationMarker, b.String())
	})
}
