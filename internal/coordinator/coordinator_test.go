package coordinator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chordtoll/bootstrapper/internal/cache"
	"github.com/chordtoll/bootstrapper/internal/scheduler"
	"github.com/sirupsen/logrus"
)

func writeRecipe(t *testing.T, root, name, version, body string) {
	t.Helper()
	dir := filepath.Join(root, "recipes", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, version+".yaml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewDiscoversRecipesAndDeps(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "base", "1.0", "artefacts: [out.tar]\nbuild:\n  single: [\"true\"]\n")
	writeRecipe(t, root, "leaf", "1.0", "deps: [\"base:1.0\"]\nartefacts: [out.tar]\nbuild:\n  single: [\"true\"]\n")
	if err := os.WriteFile(filepath.Join(root, "sources.yaml"), []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := cache.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	log := logrus.New()
	log.SetOutput(os.Stderr)

	co, err := New(root, store, log)
	if err != nil {
		t.Fatal(err)
	}
	if len(co.recipes) != 2 {
		t.Fatalf("expected 2 discovered recipes, got %d", len(co.recipes))
	}

	k, ok := co.graph.NextReady()
	if !ok || k != (scheduler.Key{Name: "base", Version: "1.0"}) {
		t.Fatalf("expected base:1.0 ready first, got %+v ok=%v", k, ok)
	}
}
