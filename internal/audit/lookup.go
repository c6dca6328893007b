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

package audit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"authtrail/internal/storage"

	"github.com/goccy/go-json"
)

// GetEvent locates one event by id through the monthly indexes, newest
// month first. It returns ErrNotFound when the index is disabled or holds no
// entry for id, or when the owning file no longer contains the event.
func (s *FileStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if !s.opts.IndexEnabled || id == "" {
		return nil, ErrNotFound
	}

	indexes, err := s.indexFiles()
	if err != nil {
		return nil, &ReadError{Path: s.layout.IndexesDir(), Err: err}
	}
	for _, path := range indexes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, ok, err := storage.LookupIndex(path, id)
		if err != nil {
			s.logger.Warn("Failed to read audit index", "path", path, "error", err)
			continue
		}
		if !ok {
			continue
		}
		return s.fetch(entry)
	}
	return nil, ErrNotFound
}

// indexFiles lists index files newest first.
func (s *FileStore) indexFiles() ([]string, error) {
	entries, err := os.ReadDir(s.layout.IndexesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "index_") && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(s.layout.IndexesDir(), e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// fetch reads the event named by an index entry. The recorded file may have
// been compressed or rotated since, so the day's other files are tried too.
func (s *FileStore) fetch(entry storage.IndexEntry) (*Event, error) {
	recorded := filepath.Join(s.opts.BasePath, filepath.FromSlash(entry.File))
	candidates := []string{recorded, recorded + storage.GzipExt}

	dayFiles, err := s.layout.DayFiles(entry.Timestamp)
	if err != nil {
		s.logger.Warn("Failed to list audit files", "day", entry.Timestamp.Format("2006-01-02"), "error", err)
	}
	candidates = append(candidates, dayFiles...)

	tried := make(map[string]bool, len(candidates))
	for _, path := range candidates {
		if tried[path] {
			continue
		}
		tried[path] = true
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if e := findInFile(path, entry.EventID); e != nil {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func findInFile(path, id string) *Event {
	var found *Event
	// Records are matched in their encoded form, escapes included.
	needle, err := json.Marshal(id)
	if err != nil {
		return nil
	}
	err = storage.ReadRecords(path, func(rec []byte) {
		if found != nil || !bytes.Contains(rec, needle) {
			return
		}
		var e Event
		if json.Unmarshal(rec, &e) == nil && e.EventID == id {
			found = &e
		}
	})
	if err != nil {
		return nil
	}
	return found
}
