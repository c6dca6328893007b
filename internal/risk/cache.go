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
Package risk keeps the in-memory derived state of the audit store: per-user
risk profiles, suspicious source IPs, recent authentication failures and
device trust.

The cache is process local and rebuilt at startup by replaying recent events
through Observe, the same function live writes use, so a replayed cache and
a live-fed cache built from the same events in the same order are identical.

All state is guarded by one RWMutex. Accessors return deep copies.
*/
package risk

import (
	"sort"
	"sync"
	"time"
)

// Event classification values the cache reacts to.
const (
	TypeAuthentication = "authentication"
	ResultSuccess      = "success"
	ResultFailure      = "failure"
)

const (
	// FailureBufferSize bounds the per-user ring of recent failures.
	FailureBufferSize = 100

	// FailureWindow is the window of FailedLoginCount24h.
	FailureWindow = 24 * time.Hour

	// smoothing is the weight of a new sample in AverageRiskScore.
	smoothing = 0.2
)

// Observation is the subset of an audit event the cache consumes.
type Observation struct {
	Timestamp         time.Time
	UserID            string
	EventType         string
	Result            string
	SourceIP          string
	Country           string
	DeviceFingerprint string
	DeviceTrusted     bool
	FailureReason     string
	RiskScore         *float64
}

// FailedAttempt is one entry of a user's failure ring.
type FailedAttempt struct {
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Profile is a snapshot of a user's risk profile.
type Profile struct {
	UserID              string     `json:"user_id"`
	Locations           []string   `json:"locations"`
	Devices             []string   `json:"devices"`
	FailedLoginCount24h int        `json:"failed_login_count_24h"`
	TotalFailures       int        `json:"total_failures"`
	AverageRiskScore    float64    `json:"average_risk_score"`
	LastSuccessfulLogin *time.Time `json:"last_successful_login"`
	EventCount          int        `json:"event_count"`
	LastSeen            time.Time  `json:"last_seen"`
}

// SuspiciousIP counts authentication failures from one source address.
type SuspiciousIP struct {
	IP        string    `json:"ip"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// DeviceTrust tracks authentication outcomes per device fingerprint.
type DeviceTrust struct {
	Fingerprint string    `json:"fingerprint"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	Trusted     bool      `json:"trusted"`
	LastSeen    time.Time `json:"last_seen"`
	Score       float64   `json:"score"`
}

// Stats summarizes cache sizes for status reporting.
type Stats struct {
	Profiles      int   `json:"user_risk_profiles"`
	SuspiciousIPs int   `json:"suspicious_ips"`
	FailureUsers  int   `json:"users_with_failures"`
	Devices       int   `json:"devices"`
	Observed      int64 `json:"events_observed"`
}

type profile struct {
	locations        map[string]struct{}
	devices          map[string]struct{}
	totalFailures    int
	averageRiskScore float64
	lastSuccess      *time.Time
	eventCount       int
	lastSeen         time.Time
}

// failureRing is a fixed-capacity ring of the most recent failures.
type failureRing struct {
	items []FailedAttempt
	next  int
	full  bool
}

func (r *failureRing) push(a FailedAttempt) {
	if len(r.items) < FailureBufferSize {
		r.items = append(r.items, a)
		return
	}
	r.items[r.next] = a
	r.next = (r.next + 1) % FailureBufferSize
	r.full = true
}

// ordered returns the entries oldest first.
func (r *failureRing) ordered() []FailedAttempt {
	out := make([]FailedAttempt, 0, len(r.items))
	if !r.full {
		return append(out, r.items...)
	}
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

// Cache is the injectable risk cache owned by one audit store.
type Cache struct {
	mu         sync.RWMutex
	profiles   map[string]*profile
	suspicious map[string]*SuspiciousIP
	failures   map[string]*failureRing
	devices    map[string]*DeviceTrust
	observed   int64
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for the 24h failure window.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		profiles:   make(map[string]*profile),
		suspicious: make(map[string]*SuspiciousIP),
		failures:   make(map[string]*failureRing),
		devices:    make(map[string]*DeviceTrust),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe folds one event into the cache.
func (c *Cache) Observe(o Observation) {
	if o.UserID == "" {
		return
	}
	ts := o.Timestamp.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.observed++
	p := c.profiles[o.UserID]
	if p == nil {
		p = &profile{
			locations: make(map[string]struct{}),
			devices:   make(map[string]struct{}),
		}
		c.profiles[o.UserID] = p
	}

	if o.EventType == TypeAuthentication {
		switch o.Result {
		case ResultFailure:
			ring := c.failures[o.UserID]
			if ring == nil {
				ring = &failureRing{}
				c.failures[o.UserID] = ring
			}
			ring.push(FailedAttempt{Timestamp: ts, SourceIP: o.SourceIP, Reason: o.FailureReason})
			p.totalFailures++

			if o.SourceIP != "" {
				s := c.suspicious[o.SourceIP]
				if s == nil {
					s = &SuspiciousIP{IP: o.SourceIP, FirstSeen: ts, LastSeen: ts}
					c.suspicious[o.SourceIP] = s
				}
				s.Count++
				if ts.Before(s.FirstSeen) {
					s.FirstSeen = ts
				}
				if ts.After(s.LastSeen) {
					s.LastSeen = ts
				}
			}
		case ResultSuccess:
			if p.lastSuccess == nil || ts.After(*p.lastSuccess) {
				t := ts
				p.lastSuccess = &t
			}
		}
	}

	if o.Country != "" {
		p.locations[o.Country] = struct{}{}
	}
	if o.DeviceFingerprint != "" {
		p.devices[o.DeviceFingerprint] = struct{}{}
		c.observeDevice(o, ts)
	}
	if o.RiskScore != nil {
		p.averageRiskScore = p.averageRiskScore*(1-smoothing) + *o.RiskScore*smoothing
	}
	p.eventCount++
	if ts.After(p.lastSeen) {
		p.lastSeen = ts
	}
}

func (c *Cache) observeDevice(o Observation, ts time.Time) {
	d := c.devices[o.DeviceFingerprint]
	if d == nil {
		d = &DeviceTrust{Fingerprint: o.DeviceFingerprint}
		c.devices[o.DeviceFingerprint] = d
	}
	if o.EventType == TypeAuthentication {
		switch o.Result {
		case ResultSuccess:
			d.Successes++
		case ResultFailure:
			d.Failures++
		}
	}
	if o.DeviceTrusted {
		d.Trusted = true
	}
	if ts.After(d.LastSeen) {
		d.LastSeen = ts
	}
	if total := d.Successes + d.Failures; total > 0 {
		d.Score = float64(d.Successes) / float64(total)
	}
}

// Profile returns a snapshot of one user's profile.
func (c *Cache) Profile(userID string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	if !ok {
		return Profile{}, false
	}
	return c.snapshot(userID, p, c.now()), true
}

// Profiles returns snapshots of every profile keyed by user id.
func (c *Cache) Profiles() map[string]Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := make(map[string]Profile, len(c.profiles))
	for id, p := range c.profiles {
		out[id] = c.snapshot(id, p, now)
	}
	return out
}

func (c *Cache) snapshot(userID string, p *profile, now time.Time) Profile {
	s := Profile{
		UserID:           userID,
		Locations:        sortedKeys(p.locations),
		Devices:          sortedKeys(p.devices),
		TotalFailures:    p.totalFailures,
		AverageRiskScore: p.averageRiskScore,
		EventCount:       p.eventCount,
		LastSeen:         p.lastSeen,
	}
	if p.lastSuccess != nil {
		t := *p.lastSuccess
		s.LastSuccessfulLogin = &t
	}
	if ring := c.failures[userID]; ring != nil {
		cutoff := now.Add(-FailureWindow)
		for _, a := range ring.items {
			if !a.Timestamp.Before(cutoff) {
				s.FailedLoginCount24h++
			}
		}
	}
	return s
}

// SuspiciousIPs returns a copy of the suspicious-IP table.
func (c *Cache) SuspiciousIPs() map[string]SuspiciousIP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]SuspiciousIP, len(c.suspicious))
	for ip, s := range c.suspicious {
		out[ip] = *s
	}
	return out
}

// RecentFailures returns a user's buffered failures, oldest first.
func (c *Cache) RecentFailures(userID string) []FailedAttempt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ring := c.failures[userID]
	if ring == nil {
		return nil
	}
	return ring.ordered()
}

// DeviceTrust returns the trust record of a device fingerprint.
func (c *Cache) DeviceTrust(fingerprint string) (DeviceTrust, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[fingerprint]
	if !ok {
		return DeviceTrust{}, false
	}
	return *d, true
}

// Stats returns cache sizes.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Profiles:      len(c.profiles),
		SuspiciousIPs: len(c.suspicious),
		FailureUsers:  len(c.failures),
		Devices:       len(c.devices),
		Observed:      c.observed,
	}
}

// Reset drops all state.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles = make(map[string]*profile)
	c.suspicious = make(map[string]*SuspiciousIP)
	c.failures = make(map[string]*failureRing)
	c.devices = make(map[string]*DeviceTrust)
	c.observed = 0
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
