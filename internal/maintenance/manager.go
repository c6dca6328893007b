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
Package maintenance implements the lifecycle maintainer of the audit store.

PASS STEPS:
===========
Each pass (RunOnce) walks the events tree once and, file by file:

 1. Deletes files whose last covered day is before startOfDay(now) minus
    the retention period. A file dated exactly at the boundary is kept.
 2. Removes the plain copy of a file whose .gz sibling already exists
    (left behind by a crash between publishing the .gz and unlinking the
    original) and stale temporary files.
 3. Compresses plain files older than the compression age.

Every file step runs under the writer's per-path lock, so a file is never
compressed or deleted while a record is being appended to it. After the
file steps the pass optionally archives completed months into
backups/audit_backup_<YYYY>_<MM>.tar.gz and writes status.json.

Failures are logged, counted in the Report and in metrics, and never abort
the pass.

SCHEDULING:
===========
Start registers the pass with a cron scheduler ("@every <interval>").
Overlapping passes are skipped; Stop waits for a running pass to finish.
*/
package maintenance

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"authtrail/internal/config"
	"authtrail/internal/logging"
	"authtrail/internal/metrics"
	"authtrail/internal/risk"
	"authtrail/internal/storage"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
)

// staleTempAge is how old a temporary file must be before a pass removes it.
const staleTempAge = time.Hour

// Store is the part of the audit store the maintainer works on.
type Store interface {
	Layout() storage.Layout
	Locks() *storage.KeyedMutex
	RiskCache() *risk.Cache
}

// Config controls what a pass does.
type Config struct {
	Interval          time.Duration
	RetentionDays     int
	CompressOldFiles  bool
	CompressAfterDays int
	BackupEnabled     bool
	StatusSnapshot    bool

	// Now replaces time.Now for file aging.
	Now func() time.Time
}

// ConfigFrom builds a maintainer Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Interval:          cfg.Maintenance.Interval,
		RetentionDays:     cfg.Storage.RetentionDays,
		CompressOldFiles:  cfg.Storage.CompressOldFiles,
		CompressAfterDays: cfg.Storage.CompressAfterDays,
		BackupEnabled:     cfg.Storage.BackupEnabled,
		StatusSnapshot:    cfg.Maintenance.StatusSnapshot,
	}
}

// Report counts what one pass did.
type Report struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	FilesScanned int       `json:"files_scanned"`
	Deleted      int       `json:"deleted"`
	Compressed   int       `json:"compressed"`
	Duplicates   int       `json:"duplicates_removed"`
	TempRemoved  int       `json:"temp_removed"`
	Backups      int       `json:"backups_written"`
	Errors       int       `json:"errors"`
}

// Status is the content of status.json.
type Status struct {
	GeneratedAt time.Time  `json:"generated_at"`
	BasePath    string     `json:"base_path"`
	Cache       risk.Stats `json:"cache"`
	LastRun     Report     `json:"last_run"`
}

// Manager runs maintenance passes over a store.
type Manager struct {
	config Config
	store  Store
	layout storage.Layout
	logger *logging.Logger

	runMu sync.Mutex // serializes passes

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	started bool
	last    Report
}

// NewManager creates a maintainer for store.
func NewManager(cfg Config, store Store) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 365
	}
	if cfg.CompressAfterDays < 0 {
		cfg.CompressAfterDays = 0
	}
	return &Manager{
		config: cfg,
		store:  store,
		layout: store.Layout(),
		logger: logging.NewLogger("maintenance"),
	}
}

// Start schedules passes every Interval until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	log := cronLogger{m.logger}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	spec := "@every " + m.config.Interval.String()
	if _, err := c.AddFunc(spec, func() { m.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule maintenance %q: %w", spec, err)
	}
	c.Start()

	m.cron = c
	m.cancel = cancel
	m.started = true
	m.logger.Info("Maintenance started", "interval", m.config.Interval)
	return nil
}

// Stop cancels a running pass, stops the schedule and waits for it to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	m.cancel()
	<-m.cron.Stop().Done()
	m.started = false
	m.logger.Info("Maintenance stopped")
}

// LastReport returns the report of the most recent pass.
func (m *Manager) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// RunOnce performs one pass. A cancelled ctx ends the pass between files.
func (m *Manager) RunOnce(ctx context.Context) Report {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	now := m.config.Now().UTC()
	today := storage.StartOfDay(now)
	retainFrom := today.AddDate(0, 0, -m.config.RetentionDays)
	compressBefore := today.AddDate(0, 0, -m.config.CompressAfterDays)

	r := Report{StartedAt: now}

	files, temps, err := m.walk()
	if err != nil {
		m.fail(&r, "walk", m.layout.EventsDir(), err)
	}
	r.FilesScanned = len(files)

	for _, path := range temps {
		m.removeStaleTemp(&r, path, now)
	}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		m.maintainFile(&r, path, retainFrom, compressBefore)
	}

	if m.config.BackupEnabled && ctx.Err() == nil {
		m.writeBackups(ctx, &r, now)
	}

	r.FinishedAt = m.config.Now().UTC()

	stats := m.store.RiskCache().Stats()
	metrics.SetCacheSizes(stats.Profiles, stats.SuspiciousIPs)
	if m.config.StatusSnapshot {
		m.writeStatus(&r, stats)
	}

	m.mu.Lock()
	m.last = r
	m.mu.Unlock()

	m.logger.Info("Maintenance pass complete",
		"files", r.FilesScanned,
		"deleted", r.Deleted,
		"compressed", r.Compressed,
		"duplicates", r.Duplicates,
		"backups", r.Backups,
		"errors", r.Errors)
	return r
}

// walk lists the event files and temporary files of the events tree.
func (m *Manager) walk() (files, temps []string, err error) {
	err = filepath.WalkDir(m.layout.EventsDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch name := d.Name(); {
		case strings.HasSuffix(name, storage.TmpExt):
			temps = append(temps, path)
		case storage.IsEventFile(name):
			files = append(files, path)
		}
		return nil
	})
	return files, temps, err
}

func (m *Manager) fail(r *Report, op, path string, err error) {
	r.Errors++
	metrics.MaintenanceErrors.Inc()
	m.logger.Warn("Maintenance step failed", "op", op, "path", path, "error", err)
}

func (m *Manager) removeStaleTemp(r *Report, path string, now time.Time) {
	fi, err := os.Stat(path)
	if err != nil || now.Sub(fi.ModTime()) < staleTempAge {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.fail(r, "remove_temp", path, err)
		return
	}
	r.TempRemoved++
	m.logger.Debug("Removed stale temporary file", "path", path)
}

// maintainFile applies retention, duplicate resolution and compression to
// one file while holding the lock writers take for it.
func (m *Manager) maintainFile(r *Report, path string, retainFrom, compressBefore time.Time) {
	lastDay, ok := storage.FileLastDay(path)
	if !ok {
		return
	}

	unlock := m.store.Locks().Lock(storage.BaseOf(path))
	defer unlock()

	if lastDay.Before(retainFrom) {
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				m.fail(r, "delete", path, err)
			}
			return
		}
		r.Deleted++
		metrics.FilesDeleted.Inc()
		m.logger.Info("Deleted expired audit file", "path", path, "last_day", lastDay.Format("2006-01-02"))
		return
	}

	if strings.HasSuffix(path, storage.GzipExt) {
		return
	}

	removed, err := storage.ResolveDuplicate(path)
	if err != nil {
		m.fail(r, "resolve_duplicate", path, err)
		return
	}
	if removed {
		r.Duplicates++
		m.logger.Info("Removed duplicate of compressed file", "path", path)
		return
	}

	if !m.config.CompressOldFiles || !lastDay.Before(compressBefore) {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	gz, err := storage.CompressFile(path)
	if err != nil {
		m.fail(r, "compress", path, err)
		return
	}
	r.Compressed++
	metrics.FilesCompressed.Inc()
	m.logger.Info("Compressed audit file", "path", gz)
}

// writeBackups archives every completed month that has no backup yet.
func (m *Manager) writeBackups(ctx context.Context, r *Report, now time.Time) {
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	months, err := m.monthDirs()
	if err != nil {
		m.fail(r, "backup", m.layout.EventsDir(), err)
		return
	}
	for _, month := range months {
		if ctx.Err() != nil {
			return
		}
		if !month.Before(thisMonth) {
			continue
		}
		dst := m.layout.BackupPath(month.Year(), month.Month())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := m.writeBackup(month, dst); err != nil {
			m.fail(r, "backup", dst, err)
			continue
		}
		r.Backups++
		m.logger.Info("Wrote monthly backup", "path", dst)
	}
}

// monthDirs returns the first day of every events/<YYYY>/<MM> directory.
func (m *Manager) monthDirs() ([]time.Time, error) {
	years, err := os.ReadDir(m.layout.EventsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var months []time.Time
	for _, y := range years {
		year, err := strconv.Atoi(y.Name())
		if err != nil || !y.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(m.layout.EventsDir(), y.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			month, err := strconv.Atoi(e.Name())
			if err != nil || !e.IsDir() || month < 1 || month > 12 {
				continue
			}
			months = append(months, time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC))
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, nil
}

// writeBackup tars one month directory into dst via a temporary file.
func (m *Manager) writeBackup(month time.Time, dst string) error {
	dir := m.layout.MonthDir(month)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := dst + storage.TmpExt
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		if e.IsDir() || !storage.IsEventFile(e.Name()) {
			continue
		}
		if err := m.addToTar(tw, filepath.Join(dir, e.Name())); err != nil {
			out.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
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
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (m *Manager) addToTar(tw *tar.Writer, path string) error {
	unlock := m.store.Locks().Lock(storage.BaseOf(path))
	defer unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(m.layout.EventsDir(), path)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.CopyN(tw, f, hdr.Size)
	return err
}

func (m *Manager) writeStatus(r *Report, stats risk.Stats) {
	data, err := json.MarshalIndent(Status{
		GeneratedAt: r.FinishedAt,
		BasePath:    m.layout.Base,
		Cache:       stats,
		LastRun:     *r,
	}, "", "  ")
	if err == nil {
		err = storage.WriteFileAtomic(m.layout.StatusPath(), data)
	}
	if err != nil {
		m.fail(r, "status", m.layout.StatusPath(), err)
	}
}

// cronLogger routes scheduler logs through the component logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
