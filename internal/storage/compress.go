/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// CompressFile gzips path into path.gz and removes path.
//
// SEQUENCE:
//  1. Stream path into path.gz.tmp and fsync it
//  2. Rename path.gz.tmp to path.gz (the .gz is complete once visible)
//  3. Remove path
//
// A crash between 2 and 3 leaves both files; calling CompressFile again
// (or ResolveDuplicate) removes the stale original. If path.gz already
// exists the original is simply removed. A missing path is a no-op.
//
// Callers must hold the path's write lock.
func CompressFile(path string) (string, error) {
	if strings.HasSuffix(path, GzipExt) {
		return path, nil
	}
	gzPath := path + GzipExt

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return gzPath, nil
		}
		return "", err
	}
	if exists(gzPath) {
		return gzPath, os.Remove(path)
	}

	if err := gzipTo(path, gzPath+TmpExt); err != nil {
		os.Remove(gzPath + TmpExt)
		return "", err
	}
	if err := os.Rename(gzPath+TmpExt, gzPath); err != nil {
		os.Remove(gzPath + TmpExt)
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return gzPath, fmt.Errorf("compressed %s but failed to remove original: %w", path, err)
	}
	return gzPath, nil
}

func gzipTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ResolveDuplicate removes the plain copy of a file whose .gz sibling
// exists. It reports whether anything was removed.
func ResolveDuplicate(path string) (bool, error) {
	if strings.HasSuffix(path, GzipExt) {
		path = strings.TrimSuffix(path, GzipExt)
	}
	if !exists(path) || !exists(path+GzipExt) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}

// gzipReadCloser closes both the decompressor and the file.
type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

// OpenFile opens an event file for reading, decompressing .gz files.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, GzipExt) {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	return &gzipReadCloser{Reader: zr, file: f}, nil
}

// ReadRecords opens path and feeds each raw record to fn using the codec
// implied by the file name.
func ReadRecords(path string, fn func(record []byte)) error {
	rc, err := OpenFile(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return CodecForFile(path).Records(rc, fn)
}
