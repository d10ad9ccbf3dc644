package envelope

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// CompressText deflates text at a fixed level. The output is
// deterministic for a given input, which keeps serialized vaults
// byte-stable across saves of an unchanged history.
func CompressText(text string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("envelope: new writer: %w", err)
	}
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("envelope: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("envelope: close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressText reverses CompressText.
func DecompressText(data []byte) (string, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	text, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("envelope: decompress: %w", err)
	}
	return string(text), nil
}
