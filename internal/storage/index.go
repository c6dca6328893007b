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
Index is the auxiliary monthly lookup table of stored events.

PURPOSE:
========
Every stored event appends one JSON line to indexes/index_<YYYY-MM>.json
naming the file that holds it. Queries never depend on the index; it only
lets a single event be located by id without scanning a whole time window.

ENTRY FORMAT:
=============

	{"event_id":"...","timestamp":"...","user_id":"...","event_type":"...",
	 "result":"...","source_ip":"...","file":"events/2026/10/events_2026-10-15.jsonl"}

The file path is relative to the base directory and names the uncompressed
file; readers fall back to the .gz sibling after compression.

MEMORY MAPPING:
===============
Lookups map the index file read-only (MAP_PRIVATE) and scan it for the id
without copying it into the heap. Entries are never rewritten, so the
mapping only needs to be valid for the duration of one lookup.
*/
package storage

import (
	"bytes"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/tysonmote/gommap"
)

// IndexEntry is one line of a monthly index file.
type IndexEntry struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Result    string    `json:"result"`
	SourceIP  string    `json:"source_ip,omitempty"`
	File      string    `json:"file"`
}

// AppendIndex appends entry to the index file at path with a single write.
// Callers serialize appends per path.
func AppendIndex(path string, entry IndexEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LookupIndex searches the index file at path for eventID. A missing or
// empty file reports not found without error.
func LookupIndex(path, eventID string) (IndexEntry, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return IndexEntry{}, false, nil
		}
		return IndexEntry{}, false, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return IndexEntry{}, false, err
	}
	// mmap of a zero-length file fails with EINVAL.
	if fi.Size() == 0 {
		return IndexEntry{}, false, nil
	}

	mm, err := gommap.Map(f.Fd(), gommap.PROT_READ, gommap.MAP_PRIVATE)
	if err != nil {
		return IndexEntry{}, false, err
	}
	defer mm.UnsafeUnmap()

	quoted, err := json.Marshal(eventID)
	if err != nil {
		return IndexEntry{}, false, err
	}
	needle := append([]byte(`"event_id":`), quoted...)
	data := []byte(mm)
	for len(data) > 0 {
		i := bytes.Index(data, needle)
		if i < 0 {
			break
		}
		start := bytes.LastIndexByte(data[:i], '\n') + 1
		end := bytes.IndexByte(data[i:], '\n')
		if end < 0 {
			end = len(data)
		} else {
			end += i
		}

		// Copy out of the mapping; it is unmapped on return.
		line := append([]byte(nil), data[start:end]...)
		var entry IndexEntry
		if err := json.Unmarshal(line, &entry); err == nil && entry.EventID == eventID {
			return entry, true, nil
		}
		data = data[end:]
		if len(data) > 0 {
			data = data[1:]
		}
	}
	return IndexEntry{}, false, nil
}
