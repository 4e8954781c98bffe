package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
)

// WithCompression wraps a backend so file contents are gzipped at
// rest. Loading sniffs the gzip magic bytes, so plain files written
// before compression was switched on still load.
func WithCompression(backend Backend) Backend {
	return &compressedBackend{Backend: backend}
}

type compressedBackend struct {
	Backend
}

func (c *compressedBackend) SaveFile(ctx context.Context, table, fileName string, content []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return c.Backend.SaveFile(ctx, table, fileName, buf.Bytes())
}

func (c *compressedBackend) LoadFile(ctx context.Context, table, fileName string) ([]byte, error) {
	content, err := c.Backend.LoadFile(ctx, table, fileName)
	if err != nil {
		return nil, err
	}
	if len(content) < 2 || content[0] != 0x1f || content[1] != 0x8b {
		return content, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
