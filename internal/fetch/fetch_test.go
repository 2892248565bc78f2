package fetch

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chordtoll/bootstrapper/internal/recipe"
)

func TestFetchVerifiesSHA(t *testing.T) {
	payload := []byte("source tarball contents")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	sum := sha256.Sum256(payload)
	sc := recipe.SourceContents{URL: srv.URL, SHA: hex.EncodeToString(sum[:])}

	c := New()
	got, err := c.Fetch(sc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q", got)
	}
}

func TestFetchRejectsMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actual"))
	}))
	defer srv.Close()

	sc := recipe.SourceContents{URL: srv.URL, SHA: "deadbeef"}
	c := New()
	if _, err := c.Fetch(sc); err == nil {
		t.Fatal("expected sha256 mismatch error")
	}
}

func TestDecompressGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("hello tar bytes"))
	gw.Close()

	got, err := Decompress(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello tar bytes" {
		t.Errorf("got %q", got)
	}
}

func TestDecompressPassthrough(t *testing.T) {
	raw := []byte("plain tar data, no magic")
	got, err := Decompress(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("expected passthrough, got %q", got)
	}
}
