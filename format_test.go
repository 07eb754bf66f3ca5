package simplequeue_test

import (
	"go/format"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesAreFormatted(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		source, err := os.ReadFile(file)
		require.NoError(t, err)
		formatted, err := format.Source(source)
		require.NoError(t, err, file)
		assert.Equal(t, string(formatted), string(source), "gofmt %s", file)
	}
}
