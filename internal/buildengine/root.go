// Package buildengine runs one recipe's build inside an isolated, chrooted
// build root: a RAM-backed scratch directory with its own /dev nodes,
// devpts and procfs mounts, materialised sources/dependencies/overlays,
// and a sequence of build steps executed through cmd/chroothelper.
package buildengine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chordtoll/bootstrapper/internal/archive"
	"github.com/chordtoll/bootstrapper/internal/atexit"
	"github.com/chordtoll/bootstrapper/internal/recipe"
	"github.com/chordtoll/bootstrapper/internal/sanitize"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Root is one isolated build root: a tempdir under a RAM-backed directory,
// plus the mounts and device nodes created inside it so far. Cleanup must
// run in reverse order (proc before devpts, both before the directory is
// removed), which is exactly what atexit.Stack guarantees.
type Root struct {
	Path    string
	Cleanup *atexit.Stack
}

// NewRoot creates a fresh build root under ramDir.
func NewRoot(ramDir string) (*Root, error) {
	if err := os.MkdirAll(ramDir, 0755); err != nil {
		return nil, xerrors.Errorf("buildengine: mkdir ramdir: %w", err)
	}
	dir, err := os.MkdirTemp(ramDir, "build-")
	if err != nil {
		return nil, xerrors.Errorf("buildengine: create build root: %w", err)
	}
	r := &Root{Path: dir, Cleanup: &atexit.Stack{}}
	r.Cleanup.Push(func() error { return os.RemoveAll(dir) })
	return r, nil
}

// Join resolves a sanitised path relative to the build root.
func (r *Root) Join(p string) string {
	return filepath.Join(r.Path, sanitize.Path(p))
}

// SetupDevices creates the minimal /dev nodes a chrooted build needs
// (null, zero, random, urandom, ptmx), bind-mounts the host's /dev/pts,
// and mounts a fresh procfs. Each mount registers its own unmount on
// r.Cleanup, so both are undone (proc first, then devpts) before the root
// directory is removed; the device nodes go away with the directory.
func (r *Root) SetupDevices() error {
	devDir := r.Join("dev")
	if err := os.MkdirAll(devDir, 0755); err != nil {
		return xerrors.Errorf("buildengine: mkdir dev: %w", err)
	}

	nodes := []struct {
		name       string
		major, min uint32
	}{
		{"null", 1, 3},
		{"zero", 1, 5},
		{"random", 1, 8},
		{"urandom", 1, 9},
		{"ptmx", 5, 2},
	}
	for _, n := range nodes {
		path := filepath.Join(devDir, n.name)
		dev := int(unix.Mkdev(n.major, n.min))
		if err := unix.Mknod(path, unix.S_IFCHR|0666, dev); err != nil {
			return xerrors.Errorf("buildengine: mknod %s: %w", path, err)
		}
	}

	ptsDir := filepath.Join(devDir, "pts")
	if err := os.MkdirAll(ptsDir, 0755); err != nil {
		return xerrors.Errorf("buildengine: mkdir dev/pts: %w", err)
	}
	if err := unix.Mount("/dev/pts", ptsDir, "", unix.MS_BIND, ""); err != nil {
		return xerrors.Errorf("buildengine: bind-mount dev/pts: %w", err)
	}
	r.Cleanup.Push(func() error { return unix.Unmount(ptsDir, 0) })

	procDir := r.Join("proc")
	if err := os.MkdirAll(procDir, 0755); err != nil {
		return xerrors.Errorf("buildengine: mkdir proc: %w", err)
	}
	if err := unix.Mount("proc", procDir, "proc", 0, ""); err != nil {
		return xerrors.Errorf("buildengine: mount proc: %w", err)
	}
	r.Cleanup.Push(func() error { return unix.Unmount(procDir, 0) })

	return nil
}

// ExtractSource materialises one recipe.SourceDirective into the build
// root: either an extracted archive (zip, or a decompressed tar, via the
// shared filter contract) or a verbatim noextract write. rawBytes is the
// source blob exactly as fetched; decompressedTar is only used for tar
// extraction.
func (r *Root) ExtractSource(sd recipe.SourceDirective, decompressedTar []byte, rawBytes []byte, isZip bool) error {
	switch {
	case sd.NoExtract != "":
		if sd.Chmod != "" {
			return xerrors.New("buildengine: chmod is not valid alongside noextract")
		}
		if len(sd.Copy) != 0 {
			return xerrors.New("buildengine: copy is not valid alongside noextract")
		}
		full := r.Join(sd.NoExtract)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		return os.WriteFile(full, rawBytes, 0644)
	default:
		filter := archive.SourceExtractFilter("", sd.Extract, sd.Copy, true)
		if isZip {
			return extractZipBytes(rawBytes, r.Path, filter)
		}
		return archive.ExtractTar(decompressedTar, r.Path, filter)
	}
}

func extractZipBytes(raw []byte, targetDir string, filter archive.Filter) error {
	zr, err := newZipReader(raw)
	if err != nil {
		return fmt.Errorf("buildengine: open zip: %w", err)
	}
	return archive.ExtractZip(zr, targetDir, filter)
}

// ExtractDep installs one dependency's produced tar artefact into the
// build root, applying its declared from/to path rewrite.
func (r *Root) ExtractDep(dep recipe.DepSpec, tarBytes []byte) error {
	filter := archive.SourceExtractFilter(dep.From, dep.To, nil, false)
	if err := archive.ExtractTar(tarBytes, r.Path, filter); err != nil {
		return fmt.Errorf("buildengine: extract dep %s:%s: %w", dep.Name, dep.Version, err)
	}
	return nil
}

// WriteOverlay writes one verbatim overlay file into the build root.
func (r *Root) WriteOverlay(relPath string, data []byte) error {
	full := r.Join(relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0644)
}

// Mkdirs creates the recipe's declared extra directories.
func (r *Root) Mkdirs(dirs []string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(r.Join(d), 0755); err != nil {
			return err
		}
	}
	return nil
}
