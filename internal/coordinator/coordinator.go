// Package coordinator implements the scheduling side of the build: it
// discovers every recipe under a build root, walks the dependency DAG
// leaf-first, short-circuits on cache hits, and otherwise dispatches a
// build across the wire protocol to a connected worker.
package coordinator

import (
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chordtoll/bootstrapper/internal/cache"
	"github.com/chordtoll/bootstrapper/internal/fetch"
	"github.com/chordtoll/bootstrapper/internal/hash"
	"github.com/chordtoll/bootstrapper/internal/recipe"
	"github.com/chordtoll/bootstrapper/internal/scheduler"
	"github.com/chordtoll/bootstrapper/internal/wire"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Coordinator owns the recipe set, the cache store, and the dependency
// graph being walked down to nothing across one worker connection.
type Coordinator struct {
	Root  string
	Cache *cache.Store
	Log   *logrus.Logger

	recipes map[scheduler.Key]recipe.NamedRecipeVersion
	graph   *scheduler.Graph
	fetcher *fetch.Client
}

// New discovers every recipes/<name>/<version>.yaml under root and builds
// the dependency graph over them.
func New(root string, store *cache.Store, log *logrus.Logger) (*Coordinator, error) {
	recipesDir := filepath.Join(root, "recipes")
	found := make(map[scheduler.Key]recipe.NamedRecipeVersion)

	err := filepath.WalkDir(recipesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".yaml" {
			return nil
		}
		rel, err := filepath.Rel(recipesDir, path)
		if err != nil {
			return err
		}
		version := strings.TrimSuffix(filepath.Base(rel), ".yaml")
		name := filepath.Dir(rel)
		nrv, err := recipe.LoadByTargetVersion(root, name, version)
		if err != nil {
			return fmt.Errorf("coordinator: load %s: %w", rel, err)
		}

		var rv recipe.RecipeVersion
		if raw, rerr := os.ReadFile(path); rerr == nil {
			if yerr := yaml.Unmarshal(raw, &rv); yerr == nil && !rv.HasLicense() {
				log.Warnf("no license metadata for %s:%s", name, version)
			}
		}

		found[scheduler.Key{Name: name, Version: version}] = nrv
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: discover recipes: %w", err)
	}

	deps := make(map[scheduler.Key][]scheduler.Key, len(found))
	for k, nrv := range found {
		var ds []scheduler.Key
		for _, d := range nrv.Deps {
			ds = append(ds, scheduler.Key{Name: d.Name, Version: d.Version})
		}
		deps[k] = ds
	}

	return &Coordinator{
		Root:    root,
		Cache:   store,
		Log:     log,
		recipes: found,
		graph:   scheduler.New(deps),
		fetcher: fetch.New(),
	}, nil
}

// Run drains the dependency graph against one worker connection: for each
// lexicographically-next ready recipe, either pulls it from cache or
// dispatches a full build, then tells the worker to terminate once the
// queue (ignoring any cyclic remainder) is empty.
func (co *Coordinator) Run(conn net.Conn) error {
	w := wire.New(conn)

	for {
		k, ok := co.graph.NextReady()
		if !ok {
			break
		}
		co.Log.Infof("considering %s", k)

		if eq, hit, err := co.testCached(k); err != nil {
			return err
		} else if hit {
			co.Log.Infof("  cached as %s", eq)
			co.graph.MarkBuilt(k)
			continue
		}

		co.Log.Infof("  dispatching %s", k)
		if err := co.buildOne(w, k); err != nil {
			return fmt.Errorf("coordinator: building %s: %w", k, err)
		}
		co.graph.MarkBuilt(k)
	}

	if err := w.ExpectStatus(wire.ReadyForWork); err != nil {
		return err
	}
	if err := w.WriteStatus(wire.Status(1)); err != nil {
		return err
	}

	if remaining := co.graph.Remaining(); len(remaining) > 0 {
		co.Log.Warn("remaining packages:")
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].String() < remaining[j].String() })
		for _, k := range remaining {
			co.Log.Warnf("  %s", k)
		}
	}
	return nil
}

// testCached reports whether k's equivalence hash already has a cached
// artefact on disk.
func (co *Coordinator) testCached(k scheduler.Key) (string, bool, error) {
	eq, ok, err := hash.Equiv(k.Name, k.Version, co.Cache)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return eq, co.Cache.HasArtefact(eq), nil
}

// buildOne drives one full build_recipe exchange with the worker, then
// stores the produced artefact and its equivalence hash.
func (co *Coordinator) buildOne(w *wire.Conn, k scheduler.Key) error {
	if err := w.ExpectStatus(wire.ReadyForWork); err != nil {
		return err
	}
	if err := w.WriteStatus(wire.Status(0)); err != nil {
		return err
	}

	nrv := co.recipes[k]

	if err := w.WriteRecipe(nrv); err != nil {
		return err
	}

	sources, err := recipe.LoadSources(co.Root)
	if err != nil {
		return err
	}
	for name := range nrv.Source {
		sc, ok := sources[name]
		if !ok {
			return fmt.Errorf("coordinator: source %q not declared in sources.yaml", name)
		}
		data, err := co.loadOrFetchSource(sc)
		if err != nil {
			return err
		}
		if err := w.WriteSource(name, sc, data); err != nil {
			return err
		}
	}
	if err := w.FinishSources(); err != nil {
		return err
	}

	for _, dep := range nrv.Deps {
		depKey := scheduler.Key{Name: dep.Name, Version: dep.Version}
		eq, ok, err := hash.Equiv(dep.Name, dep.Version, co.Cache)
		if err != nil || !ok {
			return fmt.Errorf("coordinator: no equivalence hash for dependency %s", depKey)
		}
		data, err := co.Cache.ReadArtefact(eq)
		if err != nil {
			return err
		}
		if err := w.WriteDep(fmt.Sprintf("%s:%s", dep.Name, dep.Version), data); err != nil {
			return err
		}
	}
	if err := w.FinishDeps(); err != nil {
		return err
	}

	overlayDir := filepath.Join(co.Root, "recipes", k.Name, k.Version)
	if info, err := os.Stat(overlayDir); err == nil && info.IsDir() {
		err := filepath.WalkDir(overlayDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(overlayDir, path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return w.WriteOverlay(filepath.ToSlash(rel), data)
		})
		if err != nil {
			return err
		}
	}
	if err := w.FinishOverlays(); err != nil {
		return err
	}

	envs, err := recipe.LoadEnvFile(co.Root, k.Name)
	if err != nil {
		return err
	}
	if err := w.WriteEnvs(envs); err != nil {
		return err
	}

	if err := w.ExpectStatus(wire.BuildComplete); err != nil {
		return err
	}
	_, archive, err := w.ReadArchive()
	if err != nil {
		return err
	}

	eq := hash.Tar(archive)
	if err := co.Cache.WriteArtefact(eq, archive); err != nil {
		return err
	}
	dh, ok, err := hash.DepClosure(nrv, co.Cache)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("coordinator: dep closure hash undefined for %s after build", k)
	}
	return co.Cache.SetEquivHash(dh, eq)
}

func (co *Coordinator) loadOrFetchSource(sc recipe.SourceContents) ([]byte, error) {
	path := co.Cache.SourcePath(sc.SHA)
	if b, err := os.ReadFile(path); err == nil {
		return b, nil
	}
	data, err := co.fetcher.Fetch(sc)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}
	return data, nil
}
