package buildengine

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chordtoll/bootstrapper/internal/atexit"
)

func TestPackageArtefactsDeterministic(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "out"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "out", "bin"), []byte("binary"), 0755); err != nil {
		t.Fatal(err)
	}
	root := &Root{Path: dir, Cleanup: &atexit.Stack{}}

	b1, err := packageArtefacts(root, []string{"out"})
	if err != nil {
		t.Fatal(err)
	}
	b2, err := packageArtefacts(root, []string{"out"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("expected two packagings of identical content to be byte-identical")
	}

	tr := tar.NewReader(bytes.NewReader(b1))
	found := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Name == "out/bin" {
			found = true
			if !hdr.ModTime.Equal(time.Unix(0, 0)) {
				t.Errorf("expected zeroed mtime, got %v", hdr.ModTime)
			}
		}
	}
	if !found {
		t.Error("expected out/bin entry in packaged tar")
	}
}
