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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"authtrail/internal/config"
	"authtrail/internal/logging"
	"authtrail/internal/metrics"
	"authtrail/internal/risk"
	"authtrail/internal/storage"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Options configures a FileStore.
type Options struct {
	BasePath           string
	Format             storage.Format
	Rotation           storage.Rotation
	MaxFileBytes       int64 // size threshold; 0 with RotationSize rotates every non-empty file
	CompressOnRotation bool
	CompressOldFiles   bool
	RetentionDays      int
	IndexEnabled       bool
	ReplayDays         int
	SummaryMaxEvents   int
	ReadWorkers        int
}

// OptionsFromConfig converts the storage section of the configuration.
func OptionsFromConfig(cfg *config.StorageConfig) (Options, error) {
	format, err := storage.ParseFormat(cfg.Format)
	if err != nil {
		return Options{}, err
	}
	rotation, err := storage.ParseRotation(cfg.Rotation)
	if err != nil {
		return Options{}, err
	}
	return Options{
		BasePath:           cfg.BasePath,
		Format:             format,
		Rotation:           rotation,
		MaxFileBytes:       int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		CompressOnRotation: cfg.CompressOnRotation,
		CompressOldFiles:   cfg.CompressOldFiles,
		RetentionDays:      cfg.RetentionDays,
		IndexEnabled:       cfg.IndexEnabled,
		ReplayDays:         cfg.ReplayDays,
		SummaryMaxEvents:   cfg.SummaryMaxEvents,
		ReadWorkers:        cfg.ReadWorkers,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.BasePath == "" {
		o.BasePath = "data/audit"
	}
	if o.Format == "" {
		o.Format = storage.FormatJSONL
	}
	if o.Rotation == "" {
		o.Rotation = storage.RotationDaily
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = 365
	}
	if o.ReplayDays < 0 {
		o.ReplayDays = 0
	}
	if o.SummaryMaxEvents <= 0 {
		o.SummaryMaxEvents = 10000
	}
	if o.ReadWorkers <= 0 {
		o.ReadWorkers = 4
	}
}

// Sink receives every stored record after it is durable. Submit must not
// block.
type Sink interface {
	Submit(key string, record []byte) bool
}

// Option customizes a FileStore.
type Option func(*FileStore)

// WithRiskCache injects the risk cache the store feeds.
func WithRiskCache(c *risk.Cache) Option {
	return func(s *FileStore) { s.cache = c }
}

// WithClock replaces time.Now for default timestamps and query windows.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// WithSink forwards stored records to sink.
func WithSink(sink Sink) Option {
	return func(s *FileStore) { s.sink = sink }
}

// WithLocks shares the per-path lock table, e.g. with the maintainer.
func WithLocks(l *storage.KeyedMutex) Option {
	return func(s *FileStore) { s.locks = l }
}

// FileStore implements Store on rotating append-only files.
type FileStore struct {
	opts    Options
	layout  storage.Layout
	locks   *storage.KeyedMutex
	dirLock *storage.DirLock
	cache   *risk.Cache
	sink    Sink
	now     func() time.Time
	logger  *logging.Logger

	initOnce sync.Once
	initErr  error
	closed   atomic.Bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (creating if needed) the store at opts.BasePath and
// takes the directory lock.
func NewFileStore(opts Options, options ...Option) (*FileStore, error) {
	opts.applyDefaults()

	s := &FileStore{
		opts:   opts,
		layout: storage.NewLayout(opts.BasePath),
		now:    time.Now,
		logger: logging.NewLogger("audit"),
	}
	for _, o := range options {
		o(s)
	}
	if s.locks == nil {
		s.locks = storage.NewKeyedMutex()
	}
	if s.cache == nil {
		s.cache = risk.NewCache(risk.WithClock(s.now))
	}

	if err := s.layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create audit directories: %w", err)
	}
	lock, err := storage.LockDir(opts.BasePath)
	if err != nil {
		return nil, err
	}
	s.dirLock = lock

	s.logger.Info("Audit store opened",
		"base_path", opts.BasePath,
		"format", opts.Format,
		"rotation", opts.Rotation,
		"index", opts.IndexEnabled)
	return s, nil
}

// Layout returns the path resolver of the store.
func (s *FileStore) Layout() storage.Layout { return s.layout }

// Locks returns the per-path lock table writers hold while appending.
func (s *FileStore) Locks() *storage.KeyedMutex { return s.locks }

// RiskCache returns the store's risk cache.
func (s *FileStore) RiskCache() *risk.Cache { return s.cache }

// Options returns the effective options.
func (s *FileStore) Options() Options { return s.opts }

// Init rebuilds the risk cache from the last ReplayDays of events. It runs
// once; concurrent callers wait for the same pass. Every public operation
// calls it.
func (s *FileStore) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.replay(ctx)
	})
	return s.initErr
}

func (s *FileStore) replay(ctx context.Context) error {
	if s.opts.ReplayDays == 0 {
		return nil
	}
	end := s.now().UTC()
	start := storage.StartOfDay(end).AddDate(0, 0, -s.opts.ReplayDays)

	window := newMatcher(QueryFilter{Start: start, End: end})
	events, skipped, err := s.scan(ctx, start, end, window.match, NoLimit)
	if err != nil {
		// The cache stays partial; writes are still served.
		s.logger.Warn("Risk cache replay failed", "error", err)
		return nil
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	for i := range events {
		s.cache.Observe(events[i].observation())
	}
	stats := s.cache.Stats()
	metrics.SetCacheSizes(stats.Profiles, stats.SuspiciousIPs)
	s.logger.Info("Risk cache rebuilt",
		"events", len(events),
		"skipped", skipped,
		"profiles", stats.Profiles,
		"suspicious_ips", stats.SuspiciousIPs)
	return nil
}

func (s *FileStore) ready(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.Init(ctx)
}

// Store validates and durably appends an event. It fills in a missing
// event id, timestamp and severity on the passed event.
func (s *FileStore) Store(ctx context.Context, event *Event) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	if event == nil {
		return "", &ValidationError{Reason: "event is nil"}
	}
	start := time.Now()

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if err := event.Validate(); err != nil {
		return "", err
	}

	record, err := json.Marshal(event)
	if err != nil {
		return "", &ValidationError{Reason: fmt.Sprintf("event cannot be encoded: %v", err)}
	}

	path, err := s.append(event.Timestamp, record)
	if err != nil {
		metrics.RecordStoreError()
		s.logger.Error("Failed to store audit event",
			"event_id", event.EventID,
			"path", path,
			"error", err)
		return "", &WriteError{Path: path, Err: err}
	}
	metrics.RecordStore(string(event.EventType), string(event.Result), time.Since(start))

	s.afterWrite(event, path, record)
	return event.EventID, nil
}

// append writes one record into the file for ts and returns the file used.
// Redirect, rotation check and append form one critical section per path.
func (s *FileStore) append(ts time.Time, record []byte) (string, error) {
	path := s.layout.EventPath(ts, s.opts.Rotation, s.opts.Format)

	unlock := s.locks.Lock(path)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, err
	}

	target, err := storage.ActivePath(path)
	if err != nil {
		return path, err
	}

	if target, err = s.rotateIfNeeded(path, target); err != nil {
		return target, err
	}

	if err := storage.CodecFor(s.opts.Format).Append(target, record); err != nil {
		return target, err
	}
	return target, nil
}

func (s *FileStore) sizeRotation() bool {
	return s.opts.Rotation == storage.RotationSize || s.opts.MaxFileBytes > 0
}

// rotateIfNeeded moves a full target aside. For the base path the full file
// is renamed to the first free _NNN slot; for a numbered target (the base
// was already compressed) writing moves on to the next free slot.
func (s *FileStore) rotateIfNeeded(path, target string) (string, error) {
	if !s.sizeRotation() {
		return target, nil
	}
	fi, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return target, nil
		}
		return target, err
	}
	if fi.Size() == 0 || fi.Size() < s.opts.MaxFileBytes {
		return target, nil
	}

	next, err := storage.NextFreeNumbered(path)
	if err != nil {
		return target, err
	}
	if target != path {
		return next, nil
	}

	if err := os.Rename(path, next); err != nil {
		return target, fmt.Errorf("failed to rotate %s: %w", path, err)
	}
	metrics.FilesRotated.Inc()
	s.logger.Info("Rotated audit file", "from", path, "to", next, "size", fi.Size())

	if s.opts.CompressOnRotation {
		if _, err := storage.CompressFile(next); err != nil {
			s.logger.Warn("Failed to compress rotated file", "path", next, "error", err)
		} else {
			metrics.FilesCompressed.Inc()
		}
	}
	return path, nil
}

// afterWrite runs the best-effort steps that follow a committed write.
func (s *FileStore) afterWrite(event *Event, path string, record []byte) {
	s.cache.Observe(event.observation())

	if s.opts.IndexEnabled {
		rel, err := filepath.Rel(s.opts.BasePath, path)
		if err != nil {
			rel = path
		}
		indexPath := s.layout.IndexPath(event.Timestamp)
		unlock := s.locks.Lock(indexPath)
		err = storage.AppendIndex(indexPath, storage.IndexEntry{
			EventID:   event.EventID,
			Timestamp: event.Timestamp,
			UserID:    event.UserID,
			EventType: string(event.EventType),
			Result:    string(event.Result),
			SourceIP:  event.SourceIP,
			File:      filepath.ToSlash(rel),
		})
		unlock()
		if err != nil {
			s.logger.Warn("Failed to update audit index", "path", indexPath, "error", err)
		}
	}

	if s.sink != nil && !s.sink.Submit(event.UserID, record) {
		s.logger.Debug("Forwarder rejected audit event", "event_id", event.EventID)
	}
}

// Close releases the directory lock. Further operations return ErrClosed.
func (s *FileStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("Audit store closed", "base_path", s.opts.BasePath)
	if err := s.dirLock.Unlock(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
