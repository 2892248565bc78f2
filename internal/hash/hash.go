// Package hash computes the three-level hash hierarchy that ties the
// recipe graph to its content-addressed cache: the recipe-identity hash,
// the dep-closure hash, and (via a lookup) the equivalence hash.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chordtoll/bootstrapper/internal/recipe"
	"gopkg.in/yaml.v3"
)

// Resolver is everything hashing a recipe graph needs from the outside
// world: recipe lookup (to recurse into a dependency's own deps) and the
// equivalence-hash map (the sled store, keyed by dep-closure hash).
// internal/cache.Store plus internal/recipe's loader satisfy this.
type Resolver interface {
	LoadRecipe(name, version string) (recipe.NamedRecipeVersion, error)
	EquivHash(depClosureHash string) (hash string, ok bool, err error)
}

// Recipe returns H_r(name, ver): the SHA-256 hex digest of a canonical
// serialisation of the fully-resolved recipe. YAML (via gopkg.in/yaml.v3)
// is the canonical text form, matching the form used on the wire (§4.5) and
// the form recipes are authored in.
func Recipe(nrv recipe.NamedRecipeVersion) (string, error) {
	b, err := yaml.Marshal(nrv)
	if err != nil {
		return "", fmt.Errorf("hash: marshal recipe %s:%s: %w", nrv.Name, nrv.Version, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// DepClosure returns H_d(name, ver): SHA-256 of H_r concatenated with
// ",<H_eq(dep)>" for every declared dependency in order. ok is false if any
// dependency's equivalence hash is undefined.
func DepClosure(nrv recipe.NamedRecipeVersion, r Resolver) (h string, ok bool, err error) {
	rh, err := Recipe(nrv)
	if err != nil {
		return "", false, err
	}
	acc := rh
	for _, dep := range nrv.Deps {
		eq, ok, err := Equiv(dep.Name, dep.Version, r)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		acc += "," + eq
	}
	sum := sha256.Sum256([]byte(acc))
	return hex.EncodeToString(sum[:]), true, nil
}

// Equiv returns H_eq(name, ver): the equivalence hash currently on file for
// this recipe, i.e. equiv[H_d(name, ver)]. ok is false if H_d is undefined
// or absent from the map.
func Equiv(name, version string, r Resolver) (string, bool, error) {
	nrv, err := r.LoadRecipe(name, version)
	if err != nil {
		return "", false, err
	}
	dh, ok, err := DepClosure(nrv, r)
	if err != nil || !ok {
		return "", false, err
	}
	return r.EquivHash(dh)
}

// Tar returns the equivalence hash of a produced artefact: the SHA-256 hex
// digest of its tar bytes.
func Tar(tarBytes []byte) string {
	sum := sha256.Sum256(tarBytes)
	return hex.EncodeToString(sum[:])
}
