package filecore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corelane/coreindexer/pkg/coreio"
	"github.com/corelane/coreindexer/pkg/coreio/filecore"
)

var _ coreio.Core = (*filecore.Core)(nil)

func TestOpenReadsLinesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0o644))

	c, err := filecore.Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Ready(context.Background()))
	require.Equal(t, uint64(3), c.Length())

	want := []string{"alpha", "beta", "gamma"}
	for i, w := range want {
		block, present, err := c.Get(context.Background(), uint64(i), coreio.GetOptions{})
		require.NoError(t, err)
		require.True(t, present)
		require.Equal(t, w, string(block))
	}

	_, present, err := c.Get(context.Background(), 3, coreio.GetOptions{})
	require.NoError(t, err)
	require.False(t, present)
}

func TestOpenIsDeterministicByPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	a, err := filecore.Open(path)
	require.NoError(t, err)
	b, err := filecore.Open(path)
	require.NoError(t, err)

	require.Equal(t, a.Key(), b.Key())
	require.Equal(t, a.DiscoveryKey(), b.DiscoveryKey())
}
