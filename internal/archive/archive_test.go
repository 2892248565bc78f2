package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildTar(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractTarCleanRootAndInclude(t *testing.T) {
	buf := buildTar(t, map[string]string{
		"pkg-1.0/src/main.c": "int main(){}",
		"pkg-1.0/README":     "hi",
	})
	dir := t.TempDir()
	filter := SourceExtractFilter("", "", []string{"src"}, true)
	if err := ExtractTar(buf, dir, filter); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "main.c")); err != nil {
		t.Errorf("expected src/main.c to be extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "README")); err == nil {
		t.Errorf("README should have been excluded by include filter")
	}
}

func TestExtractTarFromTo(t *testing.T) {
	buf := buildTar(t, map[string]string{
		"usr/lib/libfoo.so": "binarydata",
	})
	dir := t.TempDir()
	filter := SourceExtractFilter("usr", "opt", nil, false)
	if err := ExtractTar(buf, dir, filter); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "opt", "lib", "libfoo.so")); err != nil {
		t.Errorf("expected opt/lib/libfoo.so: %v", err)
	}
}

func TestExtractZipAbsoluteSymlinkRehosted(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	fh := &zip.FileHeader{Name: "link"}
	fh.SetMode(os.ModeSymlink | 0777)
	w, err := zw.CreateHeader(fh)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("/etc/passwd")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	filter := SourceExtractFilter("", "", nil, false)
	if err := ExtractZip(zr, dir, filter); err != nil {
		t.Fatal(err)
	}
	target, err := os.Readlink(filepath.Join(dir, "link"))
	if err != nil {
		t.Fatal(err)
	}
	if target != "etc/passwd" {
		t.Errorf("expected rehosted root-relative symlink target, got %q", target)
	}
}

func TestCommonPrefix(t *testing.T) {
	p, ok := commonPrefix([]string{"a/b", "a/c/d"})
	if !ok || p != "a" {
		t.Errorf("got %q, %v", p, ok)
	}
	if _, ok := commonPrefix([]string{"a/b", "x/c"}); ok {
		t.Errorf("expected no common prefix")
	}
}
