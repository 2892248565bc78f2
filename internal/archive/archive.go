// Package archive implements the shared tar/zip extraction contract: a
// common-prefix pre-pass followed by a filter-driven second pass, used for
// both source unpacking and dependency-artefact installation into a build
// root.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/chordtoll/bootstrapper/internal/sanitize"
)

// Filter decides, for one archive entry at path p (with the archive's
// common leading path component, if any, in prefix), where that entry
// should land under the target directory. Returning ok=false skips the
// entry.
type Filter func(p string, prefix string, hasPrefix bool) (target string, ok bool)

// firstComponent returns the first "/"-separated component of p.
func firstComponent(p string) string {
	p = strings.TrimPrefix(p, "/")
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		return p[:idx]
	}
	return p
}

// commonPrefix returns the shared first path component of names, and
// whether one exists (false if names is empty or the first components
// disagree).
func commonPrefix(names []string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	first := firstComponent(names[0])
	for _, n := range names[1:] {
		if firstComponent(n) != first {
			return "", false
		}
	}
	return first, true
}

// ExtractTar reads a fully-buffered, already-decompressed tar stream and
// extracts it into targetDir through filter. The buffer is read twice: once
// to collect entry names for the common-prefix pre-pass, once to extract.
func ExtractTar(buf []byte, targetDir string, filter Filter) error {
	names, err := tarEntryNames(buf)
	if err != nil {
		return err
	}
	prefix, hasPrefix := commonPrefix(names)

	tr := tar.NewReader(bytes.NewReader(buf))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive: tar: %w", err)
		}
		target, ok := filter(hdr.Name, prefix, hasPrefix)
		if !ok {
			continue
		}
		if err := extractTarEntry(targetDir, target, hdr, tr); err != nil {
			return err
		}
	}
	return nil
}

func extractTarEntry(targetDir, target string, hdr *tar.Header, r io.Reader) error {
	full := path.Join(targetDir, sanitize.Path(target))
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(full, 0755)
	case tar.TypeSymlink:
		if err := os.MkdirAll(path.Dir(full), 0755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, full)
	default:
		if err := os.MkdirAll(path.Dir(full), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0777))
		if err != nil {
			return fmt.Errorf("archive: create %s: %w", full, err)
		}
		defer f.Close()
		if _, err := io.Copy(f, r); err != nil {
			return fmt.Errorf("archive: write %s: %w", full, err)
		}
		return nil
	}
}

// ExtractZip extracts a zip archive into targetDir through filter.
//
// Symlinks whose target is relative (begins with ".." or does not begin
// with "/") are recreated as symlinks. An absolute symlink target is
// rehosted as root-relative (its leading "/" stripped) rather than being
// treated as fatal — see SPEC_FULL.md §4.2's REDESIGN of this Open
// Question. File permission bits are applied in a second pass, after every
// entry has been written, so that a directory remains writable while its
// children are still being materialised.
func ExtractZip(zr *zip.Reader, targetDir string, filter Filter) error {
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	prefix, hasPrefix := commonPrefix(names)

	type pendingMode struct {
		path string
		mode os.FileMode
	}
	var pending []pendingMode

	for _, f := range zr.File {
		target, ok := filter(f.Name, prefix, hasPrefix)
		if !ok {
			continue
		}
		full := path.Join(targetDir, sanitize.Path(target))
		mode := f.Mode()

		switch {
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(full, 0755); err != nil {
				return err
			}
			pending = append(pending, pendingMode{full, mode})
		case mode&os.ModeSymlink != 0:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("archive: open zip symlink %s: %w", f.Name, err)
			}
			target, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("archive: read zip symlink %s: %w", f.Name, err)
			}
			linkTarget := string(target)
			if strings.HasPrefix(linkTarget, "/") {
				linkTarget = strings.TrimPrefix(linkTarget, "/")
			}
			if err := os.MkdirAll(path.Dir(full), 0755); err != nil {
				return err
			}
			if err := os.Symlink(linkTarget, full); err != nil {
				return fmt.Errorf("archive: symlink %s: %w", full, err)
			}
		default:
			if err := os.MkdirAll(path.Dir(full), 0755); err != nil {
				return err
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("archive: open zip entry %s: %w", f.Name, err)
			}
			out, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
			if err != nil {
				rc.Close()
				return fmt.Errorf("archive: create %s: %w", full, err)
			}
			_, copyErr := io.Copy(out, rc)
			rc.Close()
			out.Close()
			if copyErr != nil {
				return fmt.Errorf("archive: write %s: %w", full, copyErr)
			}
			pending = append(pending, pendingMode{full, mode})
		}
	}

	// Apply permission bits last, children before parents, so a directory
	// doesn't go read-only before its own children are written.
	sort.Slice(pending, func(i, j int) bool { return pending[i].path > pending[j].path })
	for _, p := range pending {
		if err := os.Chmod(p.path, p.mode); err != nil {
			return fmt.Errorf("archive: chmod %s: %w", p.path, err)
		}
	}
	return nil
}

// SourceExtractFilter builds the standard filter applied to both source
// unpacking and dependency installation:
//
//   - if cleanRoot and the archive has a common prefix, that prefix is
//     stripped first;
//   - if include is non-nil, entries whose sanitised path does not start
//     with any listed include are dropped;
//   - the sanitised "from" prefix is stripped and the sanitised "to"
//     prefix is prepended to what remains.
func SourceExtractFilter(from, to string, include []string, cleanRoot bool) Filter {
	sFrom := sanitize.Path(from)
	sTo := sanitize.Path(to)
	return func(p string, prefix string, hasPrefix bool) (string, bool) {
		if cleanRoot && hasPrefix {
			p = strings.TrimPrefix(strings.TrimPrefix(p, "/"), prefix+"/")
			if p == prefix {
				p = ""
			}
		}
		if include != nil {
			sp := sanitize.Path(p)
			matched := false
			for _, inc := range include {
				sInc := sanitize.Path(inc)
				if sp == sInc || strings.HasPrefix(sp, sInc+"/") {
					matched = true
					break
				}
			}
			if !matched {
				return "", false
			}
		}
		sp := sanitize.Path(p)
		sp = strings.TrimPrefix(sp, sFrom)
		sp = strings.TrimPrefix(sp, "/")
		sp = sanitize.Path(sp)
		joined := sanitize.Path(path.Join(sTo, sp))
		return joined, true
	}
}

func tarEntryNames(buf []byte) ([]string, error) {
	tr := tar.NewReader(bytes.NewReader(buf))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: tar prepass: %w", err)
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}
