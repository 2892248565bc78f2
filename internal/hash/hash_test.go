package hash

import (
	"fmt"
	"testing"

	"github.com/chordtoll/bootstrapper/internal/recipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver is an in-memory Resolver: recipes and their equivalence
// hashes are pre-seeded by the test.
type fakeResolver struct {
	recipes map[string]recipe.NamedRecipeVersion
	equiv   map[string]string
}

func key(name, version string) string { return name + ":" + version }

func (f *fakeResolver) LoadRecipe(name, version string) (recipe.NamedRecipeVersion, error) {
	nrv, ok := f.recipes[key(name, version)]
	if !ok {
		return recipe.NamedRecipeVersion{}, fmt.Errorf("no such recipe %s:%s", name, version)
	}
	return nrv, nil
}

func (f *fakeResolver) EquivHash(depClosureHash string) (string, bool, error) {
	v, ok := f.equiv[depClosureHash]
	return v, ok, nil
}

func TestRecipeHashStableAndSensitive(t *testing.T) {
	a := recipe.NamedRecipeVersion{Name: "foo", Version: "1.0", Artefacts: []string{"foo"}}
	b := a
	b.Version = "1.1"

	ha, err := Recipe(a)
	require.NoError(t, err)
	hb, err := Recipe(b)
	require.NoError(t, err)

	assert.Len(t, ha, 64)
	assert.NotEqual(t, ha, hb)

	ha2, err := Recipe(a)
	require.NoError(t, err)
	assert.Equal(t, ha, ha2)
}

func TestDepClosureRequiresDepEquivHash(t *testing.T) {
	base := recipe.NamedRecipeVersion{Name: "base", Version: "1.0", Artefacts: []string{"base"}}
	leaf := recipe.NamedRecipeVersion{
		Name:      "leaf",
		Version:   "1.0",
		Deps:      []recipe.DepSpec{{Name: "base", Version: "1.0"}},
		Artefacts: []string{"leaf"},
	}

	r := &fakeResolver{
		recipes: map[string]recipe.NamedRecipeVersion{
			key("base", "1.0"): base,
			key("leaf", "1.0"): leaf,
		},
		equiv: map[string]string{},
	}

	_, ok, err := DepClosure(leaf, r)
	require.NoError(t, err)
	assert.False(t, ok, "leaf's closure hash must be undefined until base's equivalence hash is known")

	baseDH, ok, err := DepClosure(base, r)
	require.NoError(t, err)
	require.True(t, ok)
	r.equiv[baseDH] = "base-equiv-hash"

	_, ok, err = DepClosure(leaf, r)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTarHash(t *testing.T) {
	h1 := Tar([]byte("hello"))
	h2 := Tar([]byte("hello"))
	h3 := Tar([]byte("world"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
