package buildengine

import (
	"archive/zip"
	"bytes"
)

func newZipReader(raw []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
}
