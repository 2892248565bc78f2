package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtefactRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	eq := "ab" + "cd" + "0000000000000000000000000000000000000000000000000000000000"
	assert.False(t, store.HasArtefact(eq))

	require.NoError(t, store.WriteArtefact(eq, []byte("tar bytes")))
	assert.True(t, store.HasArtefact(eq))

	got, err := store.ReadArtefact(eq)
	require.NoError(t, err)
	assert.Equal(t, []byte("tar bytes"), got)

	assert.Equal(t, filepath.Join(store.root, "build-cache", "build", "ab", "cd", eq), store.BuildPath(eq))
}

func TestEquivHashMemoAndPersist(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.EquivHash("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetEquivHash("depclosure1", "equiv1"))

	got, found, err := store.EquivHash("depclosure1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "equiv1", got)
}
