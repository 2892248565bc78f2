package wire

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/chordtoll/bootstrapper/internal/recipe"
)

// pipePair returns two *Conn backed by connected in-memory pipes, one for
// each side of the exchange.
type duplex struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d duplex) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d duplex) Write(p []byte) (int, error) { return d.w.Write(p) }

func pipePair() (*Conn, *Conn) {
	ar, aw := io.Pipe()
	br, bw := io.Pipe()
	a := New(duplex{r: ar, w: bw})
	b := New(duplex{r: br, w: aw})
	return a, b
}

func TestRecipeRoundTrip(t *testing.T) {
	coord, worker := pipePair()
	nrv := recipe.NamedRecipeVersion{
		Name:    "foo",
		Version: "1.0",
		Deps:    []recipe.DepSpec{{Name: "bar", Version: "2.0"}},
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.WriteRecipe(nrv); err != nil {
			t.Error(err)
		}
	}()
	got, err := worker.ReadRecipe()
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "foo" || got.Version != "1.0" || len(got.Deps) != 1 || got.Deps[0].Name != "bar" {
		t.Errorf("got %+v", got)
	}
}

func TestSourceStreamingRoundTrip(t *testing.T) {
	coord, worker := pipePair()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.WriteSource("tarball", recipe.SourceContents{URL: "http://x", SHA: "abc"}, []byte("payload")); err != nil {
			t.Error(err)
			return
		}
		if err := coord.FinishSources(); err != nil {
			t.Error(err)
		}
	}()
	meta, data, err := worker.ReadSources()
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if meta["tarball"].URL != "http://x" || meta["tarball"].SHA != "abc" {
		t.Errorf("got meta %+v", meta)
	}
	if !bytes.Equal(data["tarball"], []byte("payload")) {
		t.Errorf("got data %q", data["tarball"])
	}
}

func TestDepStreamingRoundTrip(t *testing.T) {
	coord, worker := pipePair()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.WriteDep("bar:2.0", []byte("artefact")); err != nil {
			t.Error(err)
			return
		}
		if err := coord.FinishDeps(); err != nil {
			t.Error(err)
		}
	}()
	data, err := worker.ReadDeps()
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data["bar:2.0"], []byte("artefact")) {
		t.Errorf("got %q", data["bar:2.0"])
	}
}

func TestOverlayStreamingRoundTrip(t *testing.T) {
	coord, worker := pipePair()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.WriteOverlay("patches/fix.diff", []byte("diff")); err != nil {
			t.Error(err)
			return
		}
		if err := coord.FinishOverlays(); err != nil {
			t.Error(err)
		}
	}()
	data, err := worker.ReadOverlays()
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data["patches/fix.diff"], []byte("diff")) {
		t.Errorf("got %q", data["patches/fix.diff"])
	}
}

func TestEnvsRoundTrip(t *testing.T) {
	coord, worker := pipePair()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.WriteEnvs(map[string]string{"PKG": "foo"}); err != nil {
			t.Error(err)
		}
	}()
	got, err := worker.ReadEnvs()
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if got["PKG"] != "foo" {
		t.Errorf("got %+v", got)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	coord, worker := pipePair()
	hash := ""
	for i := 0; i < 64; i++ {
		hash += "a"
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.WriteArchive(hash, []byte("tarbytes")); err != nil {
			t.Error(err)
		}
	}()
	status, err := coord.ReadStatus()
	if err != nil {
		t.Fatal(err)
	}
	if status != BuildComplete {
		t.Fatalf("got status %s", status)
	}
	gotHash, archive, err := coord.ReadArchive()
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if gotHash != hash || !bytes.Equal(archive, []byte("tarbytes")) {
		t.Errorf("got hash=%q archive=%q", gotHash, archive)
	}
}

func TestExpectStatusMismatch(t *testing.T) {
	coord, worker := pipePair()
	go func() {
		_ = coord.WriteStatus(HaveDep)
	}()
	if err := worker.ExpectStatus(NeedDep); err == nil {
		t.Fatal("expected protocol violation error")
	}
}
