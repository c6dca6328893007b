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

/*
Codec implements the two interchangeable record encodings of event files.

JSONL (default):
================
One JSON object per line. An append is a single write(2) of the encoded line
followed by fsync, so a failed append never corrupts existing lines and the
cost is O(1) in the file size.

JSON ARRAY:
===========
A single JSON array document. An append reads the document, appends the
record in memory and atomically replaces the file through a temp file and
rename. The cost is O(file size) per append; the format is kept for
compatibility with existing data.
*/
package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Codec appends encoded records to a file and iterates the records of a file.
type Codec interface {
	// Format reports the encoding handled by the codec.
	Format() Format

	// Append durably adds one encoded record (a JSON object) to path,
	// creating the file if needed.
	Append(path string, record []byte) error

	// Records calls fn for every raw record read from r. Records that cannot
	// be framed are reported through fn like any other; decoding them is the
	// caller's job.
	Records(r io.Reader, fn func(record []byte)) error
}

// CodecFor returns the codec for a format.
func CodecFor(f Format) Codec {
	if f == FormatJSON {
		return arrayCodec{}
	}
	return lineCodec{}
}

// CodecForFile picks the codec from a file name, ignoring a .gz suffix.
func CodecForFile(name string) Codec {
	return CodecFor(FormatOf(name))
}

type lineCodec struct{}

func (lineCodec) Format() Format { return FormatJSONL }

func (lineCodec) Append(path string, record []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	size := fi.Size()

	line := make([]byte, 0, len(record)+2)
	// An unterminated tail left by a crash gets its own line.
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			f.Close()
			return err
		}
		if last[0] != '\n' {
			line = append(line, '\n')
		}
	}
	line = append(line, bytes.TrimSpace(record)...)
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return rollback(f, size, err)
	}
	if err := f.Sync(); err != nil {
		return rollback(f, size, err)
	}
	return f.Close()
}

// rollback cuts f back to size after a failed append and closes it.
func rollback(f *os.File, size int64, cause error) error {
	if err := f.Truncate(size); err != nil {
		cause = fmt.Errorf("%w (truncate to %d failed: %v)", cause, size, err)
	}
	f.Close()
	return cause
}

func (lineCodec) Records(r io.Reader, fn func(record []byte)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			fn(trimmed)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

type arrayCodec struct{}

func (arrayCodec) Format() Format { return FormatJSON }

func (arrayCodec) Append(path string, record []byte) error {
	var records []json.RawMessage
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("existing document %s is not a JSON array: %w", path, err)
			}
		}
	case !os.IsNotExist(err):
		return err
	}
	records = append(records, json.RawMessage(bytes.TrimSpace(record)))

	out, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, out)
}

func (arrayCodec) Records(r io.Reader, fn func(record []byte)) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("invalid JSON array document: %w", err)
	}
	for _, rec := range records {
		fn(rec)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*"+TmpExt)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
