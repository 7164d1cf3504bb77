package layers

import (
	"archive/tar"
	"bytes"

	"github.com/klauspost/compress/gzip"
)

// buildTarGz writes entries as {name, content} pairs in order; content
// == nil writes a directory entry instead of a regular file.
func buildTarGz(entries map[string][]byte, order []string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, name := range order {
		content := entries[name]
		if content == nil {
			tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755})
			continue
		}
		tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))})
		tw.Write(content)
	}

	tw.Close()
	gz.Close()
	return buf.Bytes()
}
