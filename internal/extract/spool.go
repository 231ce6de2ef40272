// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// spoolDir is where random-access formats are staged. Empty means the
// system temporary directory.
var spoolDir string

// spool copies the chunk stream to a temporary file for formats whose
// parsers need random access. Only one copy buffer is held in memory. On
// error the file is already removed.
func spool(ctx context.Context, src ChunkStream, pattern string) (*os.File, int64, error) {
	f, err := os.CreateTemp(spoolDir, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("creating spool file: %w", err)
	}
	n, err := io.Copy(f, src.Reader(ctx))
	if err != nil {
		_ = discardSpool(f)
		return nil, 0, err
	}
	return f, n, nil
}

// discardSpool closes and removes a spool file. It tolerates a file the
// caller already closed.
func discardSpool(f *os.File) error {
	err := f.Close()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	if rerr := os.Remove(f.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}
