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
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"time"

	"authtrail/internal/metrics"
	"authtrail/internal/storage"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Query retrieves events matching the filter, newest first.
//
// Days are visited from End back to Start. Each day's files are read on a
// bounded worker pool; once a day completes with at least Limit matches the
// scan stops, which yields exactly the Limit most recent matches.
func (s *FileStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	filter = s.normalize(filter)

	events, skipped, err := s.scan(ctx, filter.Start, filter.End, newMatcher(filter).match, filter.Limit)
	metrics.RecordQuery(time.Since(start), skipped)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Debug("Skipped malformed audit records", "count", skipped)
	}
	return events, nil
}

func (s *FileStore) normalize(f QueryFilter) QueryFilter {
	if f.End.IsZero() {
		f.End = s.now()
	}
	if f.Start.IsZero() {
		f.Start = f.End.Add(-DefaultQueryWindow)
	}
	f.Start = f.Start.UTC()
	f.End = f.End.UTC()
	if f.Limit == 0 {
		f.Limit = DefaultQueryLimit
	}
	return f
}

type matcher struct {
	start, end time.Time
	users      map[string]struct{}
	types      map[EventType]struct{}
	results    map[Result]struct{}
	ips        map[string]struct{}
}

func newMatcher(f QueryFilter) *matcher {
	return &matcher{
		start:   f.Start,
		end:     f.End,
		users:   setOf(f.UserIDs),
		types:   setOf(f.EventTypes),
		results: setOf(f.Results),
		ips:     setOf(f.SourceIPs),
	}
}

func setOf[T comparable](items []T) map[T]struct{} {
	if len(items) == 0 {
		return nil
	}
	m := make(map[T]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

func (m *matcher) match(e *Event) bool {
	if e.Timestamp.Before(m.start) || e.Timestamp.After(m.end) {
		return false
	}
	if m.users != nil {
		if _, ok := m.users[e.UserID]; !ok {
			return false
		}
	}
	if m.types != nil {
		if _, ok := m.types[e.EventType]; !ok {
			return false
		}
	}
	if m.results != nil {
		if _, ok := m.results[e.Result]; !ok {
			return false
		}
	}
	if m.ips != nil {
		if _, ok := m.ips[e.SourceIP]; !ok {
			return false
		}
	}
	return true
}

// scan collects the events of [start, end] accepted by match, newest first.
// It returns the events, the number of malformed records skipped and a
// *ReadError when a directory cannot be listed.
func (s *FileStore) scan(ctx context.Context, start, end time.Time, match func(*Event) bool, limit int) ([]Event, int, error) {
	var (
		out     []Event
		skipped int
		visited = make(map[string]bool)
	)

	first := storage.StartOfDay(start)
	for day := storage.StartOfDay(end); !day.Before(first); day = day.AddDate(0, 0, -1) {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}

		files, err := s.layout.DayFiles(day)
		if err != nil {
			return nil, skipped, &ReadError{Path: s.layout.MonthDir(day), Err: err}
		}
		pending := files[:0]
		for _, f := range files {
			if !visited[f] {
				visited[f] = true
				pending = append(pending, f)
			}
		}

		events, n, err := s.readFiles(ctx, pending, match)
		if err != nil {
			return nil, skipped, err
		}
		out = append(out, events...)
		skipped += n

		if limit > 0 && len(out) >= limit {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, skipped, nil
}

// readFiles reads files concurrently, keeping file order in the result.
// Unreadable files are logged and contribute nothing.
func (s *FileStore) readFiles(ctx context.Context, files []string, match func(*Event) bool) ([]Event, int, error) {
	if len(files) == 0 {
		return nil, 0, nil
	}

	results := make([][]Event, len(files))
	skips := make([]int, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ReadWorkers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			events, skipped, err := readEventFile(path, match)
			if errors.Is(err, fs.ErrNotExist) && !strings.HasSuffix(path, storage.GzipExt) {
				// Compressed by maintenance after the file was listed.
				events, skipped, err = readEventFile(path+storage.GzipExt, match)
			}
			if err != nil {
				s.logger.Warn("Skipping unreadable audit file", "path", path, "error", err)
				return nil
			}
			results[i] = events
			skips[i] = skipped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var (
		out     []Event
		skipped int
	)
	for i := range results {
		out = append(out, results[i]...)
		skipped += skips[i]
	}
	return out, skipped, nil
}

// readEventFile decodes every record of one file. Records that are not
// valid events are counted and skipped.
func readEventFile(path string, match func(*Event) bool) ([]Event, int, error) {
	var (
		out     []Event
		skipped int
	)
	err := storage.ReadRecords(path, func(rec []byte) {
		var e Event
		if err := json.Unmarshal(rec, &e); err != nil || e.UserID == "" {
			skipped++
			return
		}
		if match(&e) {
			out = append(out, e)
		}
	})
	if err != nil {
		return nil, skipped, err
	}
	return out, skipped, nil
}
