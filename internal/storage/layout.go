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
Layout resolves every on-disk location used by the audit store.

DIRECTORY STRUCTURE:
====================

	<base>/
	  events/<YYYY>/<MM>/events_<YYYY-MM-DD>[_<HH>|_week|_<NNN>].<jsonl|json>[.gz]
	  indexes/index_<YYYY-MM>.json
	  archives/
	  backups/audit_backup_<YYYY>_<MM>.tar.gz
	  reports/
	  temp/
	  status.json

FILE NAMING:
============
The event file name is a pure function of (timestamp, rotation, format):
- hourly: events_2026-10-15_09.jsonl
- daily:  events_2026-10-15.jsonl
- weekly: events_2026-10-12_week.jsonl (Monday of the ISO week, stored under
  the Monday's year/month directory)
- size:   events_2026-10-15.jsonl, rotated copies events_2026-10-15_001.jsonl ...

All dates are UTC. The date embedded in a file name never changes, so the
lifecycle maintainer can age files without opening them.
*/
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format selects the on-disk record encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
)

// Ext returns the file extension including the leading dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSONL, "":
		return FormatJSONL, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown storage format %q", s)
}

// Rotation selects how event files are split over time.
type Rotation string

const (
	RotationHourly Rotation = "hourly"
	RotationDaily  Rotation = "daily"
	RotationWeekly Rotation = "weekly"
	RotationSize   Rotation = "size"
)

// ParseRotation validates a rotation name.
func ParseRotation(s string) (Rotation, error) {
	switch r := Rotation(strings.ToLower(s)); r {
	case RotationHourly, RotationDaily, RotationWeekly, RotationSize:
		return r, nil
	case "":
		return RotationDaily, nil
	}
	return "", fmt.Errorf("unknown rotation policy %q", s)
}

const (
	filePrefix  = "events_"
	weekSuffix  = "_week"
	dateLayout  = "2006-01-02"
	GzipExt     = ".gz"
	TmpExt      = ".tmp"
	statusFile  = "status.json"
	indexPrefix = "index_"
	maxSlots    = 1000
)

// Layout maps timestamps and names to paths below a base directory.
type Layout struct {
	Base string
}

// NewLayout returns a Layout rooted at base.
func NewLayout(base string) Layout {
	return Layout{Base: base}
}

func (l Layout) EventsDir() string   { return filepath.Join(l.Base, "events") }
func (l Layout) IndexesDir() string  { return filepath.Join(l.Base, "indexes") }
func (l Layout) ArchivesDir() string { return filepath.Join(l.Base, "archives") }
func (l Layout) BackupsDir() string  { return filepath.Join(l.Base, "backups") }
func (l Layout) ReportsDir() string  { return filepath.Join(l.Base, "reports") }
func (l Layout) TempDir() string     { return filepath.Join(l.Base, "temp") }
func (l Layout) StatusPath() string  { return filepath.Join(l.Base, statusFile) }

// EnsureDirs creates the fixed directory tree. It is idempotent.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{
		l.EventsDir(), l.IndexesDir(), l.ArchivesDir(),
		l.BackupsDir(), l.ReportsDir(), l.TempDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// MonthDir returns events/<YYYY>/<MM> for t.
func (l Layout) MonthDir(t time.Time) string {
	t = t.UTC()
	return filepath.Join(l.EventsDir(), fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())))
}

// EventPath resolves the write target for an event timestamped ts.
func (l Layout) EventPath(ts time.Time, rot Rotation, f Format) string {
	ts = ts.UTC()
	var name string
	switch rot {
	case RotationHourly:
		name = fmt.Sprintf("%s%s_%02d", filePrefix, ts.Format(dateLayout), ts.Hour())
	case RotationWeekly:
		monday := WeekStart(ts)
		return filepath.Join(l.MonthDir(monday), filePrefix+monday.Format(dateLayout)+weekSuffix+f.Ext())
	default:
		name = DayPrefix(ts)
	}
	return filepath.Join(l.MonthDir(ts), name+f.Ext())
}

// IndexPath returns indexes/index_<YYYY-MM>.json for t.
func (l Layout) IndexPath(t time.Time) string {
	t = t.UTC()
	return filepath.Join(l.IndexesDir(), fmt.Sprintf("%s%04d-%02d.json", indexPrefix, t.Year(), int(t.Month())))
}

// BackupPath returns backups/audit_backup_<YYYY>_<MM>.tar.gz.
func (l Layout) BackupPath(year int, month time.Month) string {
	return filepath.Join(l.BackupsDir(), fmt.Sprintf("audit_backup_%04d_%02d.tar.gz", year, int(month)))
}

// WeekStart returns midnight UTC of the Monday starting t's ISO week.
func WeekStart(t time.Time) time.Time {
	d := StartOfDay(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayPrefix is the file name prefix shared by every file of one day.
func DayPrefix(day time.Time) string {
	return filePrefix + day.UTC().Format(dateLayout)
}

// WeekPrefix is the file name prefix of the weekly file covering day.
func WeekPrefix(day time.Time) string {
	return DayPrefix(WeekStart(day)) + weekSuffix
}

// IsEventFile reports whether name looks like an event file, compressed or not.
// Temporary files are excluded.
func IsEventFile(name string) bool {
	if !strings.HasPrefix(name, filePrefix) || strings.HasSuffix(name, TmpExt) {
		return false
	}
	base := strings.TrimSuffix(name, GzipExt)
	return strings.HasSuffix(base, FormatJSONL.Ext()) || strings.HasSuffix(base, FormatJSON.Ext())
}

// IsWeekly reports whether name is a weekly rotation file.
func IsWeekly(name string) bool {
	return strings.Contains(name, weekSuffix+".")
}

// ParseFileDate extracts the date embedded in an event file name.
func ParseFileDate(name string) (time.Time, bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, filePrefix) || len(name) < len(filePrefix)+len(dateLayout) {
		return time.Time{}, false
	}
	d, err := time.Parse(dateLayout, name[len(filePrefix):len(filePrefix)+len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// FileLastDay returns the last calendar day whose events can live in the
// named file. It equals ParseFileDate except for weekly files.
func FileLastDay(name string) (time.Time, bool) {
	d, ok := ParseFileDate(name)
	if !ok {
		return d, false
	}
	if IsWeekly(filepath.Base(name)) {
		d = d.AddDate(0, 0, 6)
	}
	return d, true
}

// splitExt separates "dir/events_x_001.jsonl.gz" into
// ("dir/events_x_001", ".jsonl", ".gz").
func splitExt(path string) (stem, ext, gz string) {
	if strings.HasSuffix(path, GzipExt) {
		gz = GzipExt
		path = strings.TrimSuffix(path, GzipExt)
	}
	ext = filepath.Ext(path)
	return strings.TrimSuffix(path, ext), ext, gz
}

// NumberedPath returns the _NNN sibling of path (n >= 1).
func NumberedPath(path string, n int) string {
	stem, ext, gz := splitExt(path)
	return stem + "_" + fmt.Sprintf("%03d", n) + ext + gz
}

// BaseOf returns the unnumbered, uncompressed path a file belongs to:
// events_2026-10-15_002.jsonl.gz yields events_2026-10-15.jsonl. Writers
// hold the lock of this path while appending to any of its siblings.
func BaseOf(path string) string {
	stem, ext, _ := splitExt(path)
	if i := strings.LastIndexByte(stem, '_'); i >= 0 && len(stem)-i == 4 && isDigits(stem[i+1:]) {
		stem = stem[:i]
	}
	return stem + ext
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// NextFreeNumbered returns the first _NNN sibling of path for which neither
// the plain file nor its .gz exists.
func NextFreeNumbered(path string) (string, error) {
	for n := 1; n < maxSlots; n++ {
		candidate := NumberedPath(path, n)
		if exists(candidate) || exists(candidate+GzipExt) {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free rotation slot for %s", path)
}

// FormatOf infers the record format of a file from its name.
func FormatOf(name string) Format {
	_, ext, _ := splitExt(name)
	if ext == FormatJSON.Ext() {
		return FormatJSON
	}
	return FormatJSONL
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DayFiles lists the event files that may hold events dated day: every file
// whose name carries the day's prefix plus the weekly file covering the day.
// When both x and x.gz exist only x is returned. A missing month directory
// yields no files and no error.
func (l Layout) DayFiles(day time.Time) ([]string, error) {
	dayPrefix := DayPrefix(day)
	weekPrefix := WeekPrefix(day)

	dirs := []string{l.MonthDir(day)}
	if wd := l.MonthDir(WeekStart(day)); wd != dirs[0] {
		dirs = append(dirs, wd)
	}

	seen := make(map[string]bool)
	var files []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		names := make(map[string]bool, len(entries))
		for _, e := range entries {
			names[e.Name()] = true
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !IsEventFile(name) {
				continue
			}
			if !hasNamePrefix(name, dayPrefix) && !hasNamePrefix(name, weekPrefix) {
				continue
			}
			if strings.HasSuffix(name, GzipExt) && names[strings.TrimSuffix(name, GzipExt)] {
				continue
			}
			path := filepath.Join(dir, name)
			if !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
		}
	}
	return files, nil
}

// hasNamePrefix matches prefix only at a name component boundary.
func hasNamePrefix(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return false
	}
	c := name[len(prefix)]
	return c == '_' || c == '.'
}

// EventFiles walks the events tree and returns every event file path,
// compressed or not, in lexical order.
func (l Layout) EventFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.EventsDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && IsEventFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// ActivePath returns the file new records resolved to path should be
// appended to. That is path itself unless path has already been compressed,
// in which case it is the highest numbered sibling that is still plain, or
// the next free slot.
func ActivePath(path string) (string, error) {
	if !exists(path + GzipExt) {
		return path, nil
	}
	last := 0
	for n := 1; n < maxSlots; n++ {
		c := NumberedPath(path, n)
		if !exists(c) && !exists(c+GzipExt) {
			break
		}
		last = n
	}
	if last > 0 {
		c := NumberedPath(path, last)
		if exists(c) && !exists(c+GzipExt) {
			return c, nil
		}
	}
	if last+1 >= maxSlots {
		return "", fmt.Errorf("no free rotation slot for %s", path)
	}
	return NumberedPath(path, last+1), nil
}
