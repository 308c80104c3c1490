package apple

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Parallel()
	t.Run("no-prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewID("")
		require.NoError(err)
		assert.NotEmpty(got)
	})
	t.Run("with-prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewID("n")
		require.NoError(err)
		assert.True(strings.HasPrefix(got, "n_"))
	})
	t.Run("unique", func(t *testing.T) {
		require := require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			got, err := NewID("")
			require.NoError(err)
			require.False(seen[got])
			seen[got] = true
		}
	})
}
