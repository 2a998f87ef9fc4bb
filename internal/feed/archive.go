package feed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
)

var errNoDocument = errors.New("no .xml entry in archive")

// Extract returns the decompressed bytes of the first XML entry of a zip archive
func Extract(data []byte) ([]byte, error) {
	rc, err := OpenDocument(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	doc, err := io.ReadAll(rc)
	if err != nil {
		return nil, &apperrors.ExtractError{Err: fmt.Errorf("decompress: %w", err)}
	}
	return doc, nil
}

// OpenDocument locates the first entry whose name ends in .xml and returns a
// reader that decompresses it on demand
func OpenDocument(r io.ReaderAt, size int64) (io.ReadCloser, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &apperrors.ExtractError{Err: err}
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &apperrors.ExtractError{Err: fmt.Errorf("open %s: %w", f.Name, err)}
		}
		return rc, nil
	}

	return nil, &apperrors.ExtractError{Err: errNoDocument}
}
