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
	"sync"
	"testing"
	"time"

	"authtrail/internal/risk"
	"authtrail/internal/storage"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNow is a Thursday.
var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func matchAll(*Event) bool { return true }

func scoreOf(v float64) *float64 { return &v }

func newTestStore(t *testing.T, opts Options, options ...Option) *FileStore {
	t.Helper()
	if opts.BasePath == "" {
		opts.BasePath = t.TempDir()
	}
	options = append([]Option{WithClock(testClock)}, options...)
	s, err := NewFileStore(opts, options...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func authEvent(user, ip string, result Result, ts time.Time) *Event {
	return &Event{
		Timestamp: ts,
		EventType: EventAuthentication,
		Action:    "login",
		Result:    result,
		UserID:    user,
		SourceIP:  ip,
	}
}

func mustStore(t *testing.T, s *FileStore, e *Event) string {
	t.Helper()
	id, err := s.Store(context.Background(), e)
	require.NoError(t, err)
	return id
}

func fullEvent() *Event {
	lat, lon := 48.8566, 2.3522
	reqScore := 35.5
	return &Event{
		EventID:           "evt-roundtrip",
		Timestamp:         testNow.Add(-90*time.Minute + 123456789*time.Nanosecond),
		EventType:         EventAuthentication,
		Action:            "login",
		Result:            ResultMFARequired,
		Severity:          SeverityWarning,
		UserID:            "alice@example.com",
		UserPrincipalName: "alice@corp.example.com",
		UserRoles:         []string{"admin", "auditor"},
		SourceIP:          "203.0.113.7",
		UserAgent:         "Mozilla/5.0",
		GeographicInfo: &GeoInfo{
			Country: "FR", Region: "IDF", City: "Paris",
			Latitude: &lat, Longitude: &lon, Timezone: "Europe/Paris",
		},
		DeviceInfo: &DeviceInfo{
			DeviceID: "dev-1", DeviceType: "laptop", OS: "linux", Browser: "firefox",
			IsTrusted: true, Fingerprint: "fp-abc",
		},
		AuthDetails: &AuthDetails{
			Method: "password", MFAMethod: "totp", IdentityProvider: "okta",
			SessionID: "sess-1", CorrelationID: "corr-1", RiskScore: &reqScore,
			AppliedRules: []string{"geo-check"},
		},
		RiskAssessment: &RiskAssessment{
			RiskLevel: RiskMedium, RiskScore: scoreOf(42), ContributingFactors: []string{"new_location"},
			IsAnomalousLocation: true,
		},
		RawData:              json.RawMessage(`{"provider":"okta","claims":{"amr":["pwd","otp"]}}`),
		Tags:                 []string{"vpn"},
		PolicyViolations:     []string{"weak-password"},
		ComplianceFrameworks: []string{"SOC2", "ISO27001"},
	}
}

func TestStoreQueryRoundTrip(t *testing.T) {
	for _, format := range []storage.Format{storage.FormatJSONL, storage.FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			s := newTestStore(t, Options{Format: format})
			e := fullEvent()
			id := mustStore(t, s, e)
			assert.Equal(t, "evt-roundtrip", id)

			got, err := s.Query(context.Background(), QueryFilter{UserIDs: []string{"alice@example.com"}})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, *e, got[0])
		})
	}
}

func TestStoreAssignsDefaults(t *testing.T) {
	s := newTestStore(t, Options{})
	e := &Event{EventType: EventSystem, Result: ResultSuccess, UserID: "system"}

	id := mustStore(t, s, e)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, e.EventID)
	assert.Equal(t, testNow, e.Timestamp)
	assert.Equal(t, SeverityInfo, e.Severity)

	path := s.Layout().EventPath(testNow, storage.RotationDaily, storage.FormatJSONL)
	assert.Equal(t, "events_2026-10-15.jsonl", filepath.Base(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestStoreNormalizesTimestampToUTC(t *testing.T) {
	s := newTestStore(t, Options{})
	zone := time.FixedZone("UTC-7", -7*3600)
	e := authEvent("u", "", ResultSuccess, time.Date(2026, 10, 14, 20, 0, 0, 0, zone))

	mustStore(t, s, e)
	assert.Equal(t, time.UTC, e.Timestamp.Location())

	// 20:00 UTC-7 is 03:00 UTC on the 15th.
	_, err := os.Stat(filepath.Join(s.Layout().MonthDir(testNow), "events_2026-10-15.jsonl"))
	assert.NoError(t, err)
}

func TestStoreUniqueIDs(t *testing.T) {
	s := newTestStore(t, Options{})
	const n = 200

	var (
		mu  sync.Mutex
		ids = make(map[string]bool)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Store(context.Background(), authEvent(fmt.Sprintf("user-%d", i%7), "", ResultSuccess, testNow.Add(-time.Duration(i)*time.Second)))
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, ids, n)

	got, err := s.Query(context.Background(), QueryFilter{Limit: NoLimit})
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestStoreValidation(t *testing.T) {
	s := newTestStore(t, Options{})

	tests := []struct {
		name  string
		event *Event
		field string
	}{
		{"nil event", nil, ""},
		{"missing user", &Event{EventType: EventAuthentication, Result: ResultSuccess}, "user_id"},
		{"missing type", &Event{Result: ResultSuccess, UserID: "u"}, "event_type"},
		{"unknown type", &Event{EventType: "login", Result: ResultSuccess, UserID: "u"}, "event_type"},
		{"unknown result", &Event{EventType: EventAuthentication, Result: "maybe", UserID: "u"}, "result"},
		{"unknown severity", &Event{EventType: EventAuthentication, Result: ResultSuccess, Severity: "fatal", UserID: "u"}, "severity"},
		{"risk score out of range", &Event{EventType: EventAuthentication, Result: ResultSuccess, UserID: "u",
			RiskAssessment: &RiskAssessment{RiskScore: scoreOf(101)}}, "risk_assessment.risk_score"},
		{"path in event id", &Event{EventID: "../../etc/passwd", EventType: EventAuthentication, Result: ResultSuccess, UserID: "u"}, "event_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Store(context.Background(), tt.event)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEvent))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// Nothing reached the disk.
	files, err := s.Layout().EventFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStoreWriteError(t *testing.T) {
	s := newTestStore(t, Options{})
	// A regular file where the year directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(s.Layout().EventsDir(), "2026"), []byte("x"), 0644))

	_, err := s.Store(context.Background(), authEvent("u", "", ResultSuccess, testNow))
	require.Error(t, err)
	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.Contains(t, werr.Path, "events_2026-10-15.jsonl")
	assert.Empty(t, s.RiskCache().Profiles())
}

func TestScenarioAuthFailureQuery(t *testing.T) {
	s := newTestStore(t, Options{})
	id := mustStore(t, s, authEvent("a@x.com", "1.2.3.4", ResultFailure, testNow.Add(-time.Minute)))
	mustStore(t, s, authEvent("a@x.com", "1.2.3.4", ResultSuccess, testNow))
	mustStore(t, s, &Event{EventType: EventDataAccess, Result: ResultFailure, UserID: "a@x.com", Timestamp: testNow})

	got, err := s.Query(context.Background(), QueryFilter{
		EventTypes: []EventType{EventAuthentication},
		Results:    []Result{ResultFailure},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].EventID)
}

func TestScenarioSuspiciousIP(t *testing.T) {
	s := newTestStore(t, Options{})
	for i := 0; i < 3; i++ {
		mustStore(t, s, authEvent("a@x.com", "1.2.3.4", ResultFailure, testNow.Add(time.Duration(i-3)*time.Minute)))
	}

	ips := s.RiskCache().SuspiciousIPs()
	require.Contains(t, ips, "1.2.3.4")
	assert.Equal(t, 3, ips["1.2.3.4"].Count)
	assert.False(t, ips["1.2.3.4"].FirstSeen.After(ips["1.2.3.4"].LastSeen))

	p, ok := s.RiskCache().Profile("a@x.com")
	require.True(t, ok)
	assert.Equal(t, 3, p.FailedLoginCount24h)
}

func TestScenarioSizeRotation(t *testing.T) {
	s := newTestStore(t, Options{Rotation: storage.RotationSize})
	first := mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.Add(-time.Minute)))
	second := mustStore(t, s, authEvent("u", "", ResultSuccess, testNow))

	dir := s.Layout().MonthDir(testNow)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"events_2026-10-15.jsonl", "events_2026-10-15_001.jsonl"}, names)

	rotated, _, err := readEventFile(filepath.Join(dir, "events_2026-10-15_001.jsonl"), matchAll)
	require.NoError(t, err)
	require.Len(t, rotated, 1)
	assert.Equal(t, first, rotated[0].EventID)

	current, _, err := readEventFile(filepath.Join(dir, "events_2026-10-15.jsonl"), matchAll)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, second, current[0].EventID)
}

func TestRotationHappensOnceAtThreshold(t *testing.T) {
	const threshold = 2048
	s := newTestStore(t, Options{MaxFileBytes: threshold})
	base := s.Layout().EventPath(testNow, storage.RotationDaily, storage.FormatJSONL)

	var ids []string
	for i := 0; ; i++ {
		ids = append(ids, mustStore(t, s, authEvent("u", "10.0.0.1", ResultSuccess, testNow.Add(-time.Duration(i)*time.Second))))
		fi, err := os.Stat(base)
		require.NoError(t, err)
		if fi.Size() >= threshold {
			break
		}
	}
	ids = append(ids, mustStore(t, s, authEvent("u", "10.0.0.1", ResultSuccess, testNow)))

	_, err := os.Stat(storage.NumberedPath(base, 1))
	assert.NoError(t, err)
	_, err = os.Stat(storage.NumberedPath(base, 2))
	assert.True(t, os.IsNotExist(err))

	got, err := s.Query(context.Background(), QueryFilter{Limit: NoLimit})
	require.NoError(t, err)
	var gotIDs []string
	for _, e := range got {
		gotIDs = append(gotIDs, e.EventID)
	}
	assert.ElementsMatch(t, ids, gotIDs)
}

func TestCompressOnRotation(t *testing.T) {
	s := newTestStore(t, Options{Rotation: storage.RotationSize, CompressOnRotation: true})
	mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.Add(-time.Minute)))
	mustStore(t, s, authEvent("u", "", ResultSuccess, testNow))

	base := s.Layout().EventPath(testNow, storage.RotationSize, storage.FormatJSONL)
	_, err := os.Stat(storage.NumberedPath(base, 1) + storage.GzipExt)
	assert.NoError(t, err)

	got, err := s.Query(context.Background(), QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestWriteAfterCompressionGoesToSibling(t *testing.T) {
	s := newTestStore(t, Options{})
	day := testNow.AddDate(0, 0, -10)
	mustStore(t, s, authEvent("u", "", ResultSuccess, day))

	base := s.Layout().EventPath(day, storage.RotationDaily, storage.FormatJSONL)
	_, err := storage.CompressFile(base)
	require.NoError(t, err)

	mustStore(t, s, authEvent("u", "", ResultSuccess, day.Add(time.Minute)))
	mustStore(t, s, authEvent("u", "", ResultSuccess, day.Add(2*time.Minute)))

	_, err = os.Stat(base)
	assert.True(t, os.IsNotExist(err), "compressed file must not be recreated")
	sibling, _, err := readEventFile(storage.NumberedPath(base, 1), matchAll)
	require.NoError(t, err)
	assert.Len(t, sibling, 2)

	got, err := s.Query(context.Background(), QueryFilter{Start: day.Add(-time.Hour), End: day.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t, Options{})
	users := []string{"alice", "bob", "carol"}
	for i := 0; i < 30; i++ {
		result := ResultSuccess
		if i%3 == 0 {
			result = ResultFailure
		}
		e := authEvent(users[i%3], fmt.Sprintf("10.0.0.%d", i%5), result, testNow.Add(-time.Duration(i)*time.Hour))
		if i%4 == 0 {
			e.EventType = EventAuthorization
		}
		mustStore(t, s, e)
	}

	ctx := context.Background()

	got, err := s.Query(ctx, QueryFilter{UserIDs: []string{"bob"}})
	require.NoError(t, err)
	assert.Len(t, got, 10)
	for _, e := range got {
		assert.Equal(t, "bob", e.UserID)
	}

	got, err = s.Query(ctx, QueryFilter{UserIDs: []string{"alice"}, Results: []Result{ResultSuccess}})
	require.NoError(t, err)
	assert.Empty(t, got, "alice only has failures")

	got, err = s.Query(ctx, QueryFilter{SourceIPs: []string{"10.0.0.0"}, EventTypes: []EventType{EventAuthentication}})
	require.NoError(t, err)
	for _, e := range got {
		assert.Equal(t, "10.0.0.0", e.SourceIP)
		assert.Equal(t, EventAuthentication, e.EventType)
	}
	// i in {5,10,15,25} have ip .0 and are not multiples of 4.
	assert.Len(t, got, 4)

	// Inclusive time range.
	got, err = s.Query(ctx, QueryFilter{Start: testNow.Add(-5 * time.Hour), End: testNow.Add(-2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestQueryOrderingAndLimit(t *testing.T) {
	s := newTestStore(t, Options{})
	for d := 0; d < 5; d++ {
		for h := 0; h < 2; h++ {
			mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.AddDate(0, 0, -d).Add(-time.Duration(h)*time.Hour)))
		}
	}

	got, err := s.Query(context.Background(), QueryFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, testNow, got[0].Timestamp)
	assert.Equal(t, testNow.Add(-time.Hour), got[1].Timestamp)
	assert.Equal(t, testNow.AddDate(0, 0, -1), got[2].Timestamp)

	all, err := s.Query(context.Background(), QueryFilter{Limit: NoLimit})
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.After(all[i-1].Timestamp))
	}
}

func TestQueryDefaultWindow(t *testing.T) {
	s := newTestStore(t, Options{})
	mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.AddDate(0, 0, -40)))
	mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.AddDate(0, 0, -3)))

	got, err := s.Query(context.Background(), QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQueryEmptyStore(t *testing.T) {
	s := newTestStore(t, Options{})
	got, err := s.Query(context.Background(), QueryFilter{Start: testNow.AddDate(-2, 0, 0)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQuerySkipsCorruptRecordsAndFiles(t *testing.T) {
	s := newTestStore(t, Options{})
	mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.Add(-time.Hour)))

	path := s.Layout().EventPath(testNow, storage.RotationDaily, storage.FormatJSONL)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n{\"event_id\":\"no-user\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	mustStore(t, s, authEvent("u", "", ResultSuccess, testNow))

	// An unreadable compressed file on the same day.
	bad := storage.NumberedPath(path, 7) + storage.GzipExt
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0644))

	got, err := s.Query(context.Background(), QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQueryReadsArrayFilesFromLineStore(t *testing.T) {
	s := newTestStore(t, Options{})
	legacy := filepath.Join(s.Layout().MonthDir(testNow), "events_2026-10-14.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(legacy), 0755))

	e := authEvent("legacy", "", ResultSuccess, testNow.AddDate(0, 0, -1))
	e.EventID = "legacy-1"
	e.Severity = SeverityInfo
	rec, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, storage.CodecFor(storage.FormatJSON).Append(legacy, rec))

	got, err := s.Query(context.Background(), QueryFilter{UserIDs: []string{"legacy"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "legacy-1", got[0].EventID)
}

func TestQueryWeeklyAndHourlyRotation(t *testing.T) {
	for _, rot := range []storage.Rotation{storage.RotationWeekly, storage.RotationHourly} {
		t.Run(string(rot), func(t *testing.T) {
			s := newTestStore(t, Options{Rotation: rot})
			// Monday through Thursday of the same week.
			for d := 0; d < 4; d++ {
				mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.AddDate(0, 0, -d)))
			}
			got, err := s.Query(context.Background(), QueryFilter{Limit: NoLimit})
			require.NoError(t, err)
			assert.Len(t, got, 4)

			got, err = s.Query(context.Background(), QueryFilter{
				Start: testNow.AddDate(0, 0, -1).Add(-time.Minute),
				End:   testNow.AddDate(0, 0, -1).Add(time.Minute),
			})
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestReplayEquivalence(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Options{BasePath: dir, ReplayDays: 7})

	// Ascending, the order replay observes them in.
	events := []*Event{
		authEvent("b", "5.6.7.8", ResultFailure, testNow.AddDate(0, 0, -2)),
		authEvent("b", "5.6.7.8", ResultFailure, testNow.AddDate(0, 0, -1)),
		authEvent("a", "1.2.3.4", ResultFailure, testNow.Add(-3*time.Hour)),
		authEvent("a", "1.2.3.4", ResultSuccess, testNow.Add(-2*time.Hour)),
	}
	events[3].GeographicInfo = &GeoInfo{Country: "US"}
	events[3].RiskAssessment = &RiskAssessment{RiskScore: scoreOf(60)}
	events[0].DeviceInfo = &DeviceInfo{Fingerprint: "fp"}
	for _, e := range events {
		mustStore(t, s, e)
	}
	// Outside the replay window.
	mustStore(t, s, authEvent("old", "9.9.9.9", ResultFailure, testNow.AddDate(0, 0, -20)))

	require.NoError(t, s.Close())

	reopened := newTestStore(t, Options{BasePath: dir, ReplayDays: 7})
	require.NoError(t, reopened.Init(context.Background()))

	live := risk.NewCache(risk.WithClock(testClock))
	for _, e := range events {
		live.Observe(e.observation())
	}
	assert.Equal(t, live.Profiles(), reopened.RiskCache().Profiles())
	assert.Equal(t, live.SuspiciousIPs(), reopened.RiskCache().SuspiciousIPs())
}

func TestInitRunsOnce(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, Options{BasePath: dir, ReplayDays: 7})
	mustStore(t, s, authEvent("a", "1.1.1.1", ResultFailure, testNow))
	require.NoError(t, s.Close())

	reopened := newTestStore(t, Options{BasePath: dir, ReplayDays: 7})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reopened.Init(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reopened.RiskCache().SuspiciousIPs()["1.1.1.1"].Count)
}

func TestInjectedRiskCache(t *testing.T) {
	cache := risk.NewCache(risk.WithClock(testClock))
	s := newTestStore(t, Options{}, WithRiskCache(cache))
	mustStore(t, s, authEvent("a", "1.1.1.1", ResultFailure, testNow))
	assert.Same(t, cache, s.RiskCache())
	assert.Equal(t, 1, cache.Stats().SuspiciousIPs)
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
	recs [][]byte
}

func (r *recordingSink) Submit(key string, record []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.recs = append(r.recs, record)
	return true
}

func TestSinkReceivesStoredRecords(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, Options{}, WithSink(sink))
	id := mustStore(t, s, authEvent("alice", "", ResultSuccess, testNow))

	require.Len(t, sink.recs, 1)
	assert.Equal(t, "alice", sink.keys[0])
	var e Event
	require.NoError(t, json.Unmarshal(sink.recs[0], &e))
	assert.Equal(t, id, e.EventID)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Store(context.Background(), authEvent("u", "", ResultSuccess, testNow))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Query(context.Background(), QueryFilter{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStoreDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	newTestStore(t, Options{BasePath: dir})

	_, err := NewFileStore(Options{BasePath: dir})
	assert.ErrorIs(t, err, storage.ErrLocked)
}

func TestGetEvent(t *testing.T) {
	s := newTestStore(t, Options{IndexEnabled: true, Rotation: storage.RotationSize})
	first := mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.AddDate(0, 0, -40)))
	second := mustStore(t, s, authEvent("u", "", ResultFailure, testNow.Add(-time.Minute)))
	// Rotates the file second was written to.
	mustStore(t, s, authEvent("u", "", ResultSuccess, testNow))

	ctx := context.Background()
	e, err := s.GetEvent(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, ResultFailure, e.Result)

	old := s.Layout().EventPath(testNow.AddDate(0, 0, -40), storage.RotationSize, storage.FormatJSONL)
	_, err = storage.CompressFile(old)
	require.NoError(t, err)
	e, err = s.GetEvent(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, e.EventID)

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEventWithoutIndex(t *testing.T) {
	s := newTestStore(t, Options{})
	id := mustStore(t, s, authEvent("u", "", ResultSuccess, testNow))
	_, err := s.GetEvent(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInfo(t *testing.T) {
	s := newTestStore(t, Options{RetentionDays: 90, CompressOldFiles: true, IndexEnabled: true})
	mustStore(t, s, authEvent("a", "1.1.1.1", ResultFailure, testNow))
	mustStore(t, s, authEvent("b", "", ResultSuccess, testNow.AddDate(0, 0, -1)))

	info, err := s.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.Options().BasePath, info.BasePath)
	assert.Equal(t, 2, info.TotalFiles)
	assert.Equal(t, "jsonl", info.Format)
	assert.Equal(t, "daily", info.Rotation)
	assert.Equal(t, 90, info.RetentionDays)
	assert.True(t, info.Compression)
	assert.True(t, info.IndexEnabled)
	assert.Equal(t, 2, info.Cache.Profiles)
	assert.Equal(t, 1, info.Cache.SuspiciousIPs)
}

func TestStoreAfterTornTail(t *testing.T) {
	s := newTestStore(t, Options{})
	mustStore(t, s, authEvent("u1", "10.0.0.1", ResultSuccess, testNow.Add(-2*time.Minute)))

	// A crash mid-append leaves an unterminated record behind.
	path := s.Layout().EventPath(testNow, storage.RotationDaily, storage.FormatJSONL)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_id":"torn","user_`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	id := mustStore(t, s, authEvent("u2", "10.0.0.2", ResultFailure, testNow.Add(-time.Minute)))

	got, err := s.Query(context.Background(), QueryFilter{UserIDs: []string{"u2"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].EventID)

	all, err := s.Query(context.Background(), QueryFilter{Limit: NoLimit})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConcurrentStoresAcrossRotation(t *testing.T) {
	s := newTestStore(t, Options{Rotation: storage.RotationSize, MaxFileBytes: 1024})
	const n = 120

	var (
		mu  sync.Mutex
		ids = make(map[string]bool)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Store(context.Background(), authEvent(fmt.Sprintf("user-%d", i%5), "10.0.0.9", ResultSuccess, testNow.Add(-time.Duration(i)*time.Second)))
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	require.Len(t, ids, n)

	files, err := s.Layout().DayFiles(testNow)
	require.NoError(t, err)
	assert.Greater(t, len(files), 1)

	seen := make(map[string]int)
	for _, path := range files {
		require.NoError(t, storage.ReadRecords(path, func(rec []byte) {
			var e Event
			require.NoError(t, json.Unmarshal(rec, &e))
			seen[e.EventID]++
		}))
	}
	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.True(t, ids[id], "unexpected event %s", id)
		assert.Equal(t, 1, count, "event %s stored %d times", id, count)
	}

	got, err := s.Query(context.Background(), QueryFilter{Limit: NoLimit})
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestReadFilesFollowsCompressedFile(t *testing.T) {
	s := newTestStore(t, Options{})
	for i := 0; i < 3; i++ {
		mustStore(t, s, authEvent("u", "", ResultSuccess, testNow.Add(-time.Duration(i)*time.Minute)))
	}
	files, err := s.Layout().DayFiles(testNow)
	require.NoError(t, err)
	require.Len(t, files, 1)

	// The file is compressed between listing and reading.
	_, err = storage.CompressFile(files[0])
	require.NoError(t, err)

	got, _, err := s.readFiles(context.Background(), files, matchAll)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestGetEventWithEscapedID(t *testing.T) {
	s := newTestStore(t, Options{IndexEnabled: true})
	ids := []string{`tenant<a>&b`, `quote"d`, "caf\u00e9 \u2028line"}
	for i, id := range ids {
		e := authEvent("u", "", ResultSuccess, testNow.Add(-time.Duration(i)*time.Minute))
		e.EventID = id
		mustStore(t, s, e)
	}

	for _, id := range ids {
		e, err := s.GetEvent(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, id, e.EventID)
	}

	// The day scan fallback matches the same encoded form.
	assert.NotNil(t, findInFile(s.Layout().EventPath(testNow, storage.RotationDaily, storage.FormatJSONL), `tenant<a>&b`))
}

func TestRiskAssessmentWithoutScore(t *testing.T) {
	s := newTestStore(t, Options{})
	scored := authEvent("u", "", ResultSuccess, testNow.Add(-time.Hour))
	scored.RiskAssessment = &RiskAssessment{RiskLevel: RiskHigh, RiskScore: scoreOf(80)}
	mustStore(t, s, scored)

	unscored := authEvent("u", "", ResultSuccess, testNow.Add(-time.Minute))
	unscored.RiskAssessment = &RiskAssessment{RiskLevel: RiskLow}
	id := mustStore(t, s, unscored)

	want := risk.NewCache(risk.WithClock(testClock))
	want.Observe(scored.observation())
	wp, ok := want.Profile("u")
	require.True(t, ok)
	got, ok := s.RiskCache().Profile("u")
	require.True(t, ok)
	assert.Equal(t, wp.AverageRiskScore, got.AverageRiskScore)

	e, err := s.Query(context.Background(), QueryFilter{UserIDs: []string{"u"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, e, 1)
	assert.Equal(t, id, e[0].EventID)
	require.NotNil(t, e[0].RiskAssessment)
	assert.Nil(t, e[0].RiskAssessment.RiskScore)
}
