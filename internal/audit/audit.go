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
Package audit provides the authentication audit event store of authtrail.

OVERVIEW:
=========
The audit package persists security-relevant events (logins, authorization
decisions, configuration changes, incidents) to rotating, append-only files
and answers filtered queries, summaries and exports over them.

EVENT CATEGORIES:
=================
- authentication, authorization
- data_access, configuration_change
- security_incident, policy_violation
- system_event, compliance_event

STORAGE:
========
Events are appended to time-organized files below <base>/events. The file
an event lands in is fixed by its timestamp; events never move between
files. Old files are compressed and eventually deleted by the lifecycle
maintainer.

QUERY CAPABILITIES:
===================
- Filter by time range (inclusive)
- Filter by user, event type, result, source IP
- Newest-first ordering with a result limit
- Summaries (counts, top users/IPs) and exports (JSON, JSONL, CSV, Avro)
*/
package audit

import (
	"context"
	"time"

	"authtrail/internal/risk"

	"github.com/goccy/go-json"
)

// EventType classifies an audit event.
type EventType string

const (
	EventAuthentication      EventType = "authentication"
	EventAuthorization       EventType = "authorization"
	EventDataAccess          EventType = "data_access"
	EventConfigurationChange EventType = "configuration_change"
	EventSecurityIncident    EventType = "security_incident"
	EventPolicyViolation     EventType = "policy_violation"
	EventSystem              EventType = "system_event"
	EventCompliance          EventType = "compliance_event"
)

// Result is the outcome of the audited action.
type Result string

const (
	ResultSuccess        Result = "success"
	ResultFailure        Result = "failure"
	ResultMFARequired    Result = "mfa_required"
	ResultBlocked        Result = "blocked"
	ResultStepUpRequired Result = "step_up_required"
)

// Severity of an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// RiskLevel is the coarse classification of a risk assessment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// GeoInfo locates the event source.
type GeoInfo struct {
	Country   string   `json:"country,omitempty"`
	Region    string   `json:"region,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Timezone  string   `json:"timezone,omitempty"`
}

// DeviceInfo describes the client device.
type DeviceInfo struct {
	DeviceID    string `json:"device_id,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	OS          string `json:"os,omitempty"`
	Browser     string `json:"browser,omitempty"`
	IsTrusted   bool   `json:"is_trusted,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// AuthDetails carries authentication protocol specifics.
type AuthDetails struct {
	Method           string   `json:"method,omitempty"`
	MFAMethod        string   `json:"mfa_method,omitempty"`
	IdentityProvider string   `json:"identity_provider,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	CorrelationID    string   `json:"correlation_id,omitempty"`
	FailureReason    string   `json:"failure_reason,omitempty"`
	ErrorCode        string   `json:"error_code,omitempty"`
	RiskScore        *float64 `json:"risk_score,omitempty"`
	AppliedRules     []string `json:"applied_rules,omitempty"`
}

// RiskAssessment is the derived risk of an event.
type RiskAssessment struct {
	RiskLevel           RiskLevel `json:"risk_level,omitempty" validate:"omitempty,oneof=low medium high critical"`
	RiskScore           *float64  `json:"risk_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	ContributingFactors []string  `json:"contributing_factors,omitempty"`
	IsAnomalousLocation bool      `json:"is_anomalous_location,omitempty"`
	IsNewDevice         bool      `json:"is_new_device,omitempty"`
	IsImpossibleTravel  bool      `json:"is_impossible_travel,omitempty"`
	IsBruteForce        bool      `json:"is_brute_force,omitempty"`
}

// Event is a single audit record. Absent optional fields are omitted from
// the stored JSON.
type Event struct {
	EventID   string    `json:"event_id" validate:"omitempty,max=128,excludesall=/\\"`
	Timestamp time.Time `json:"timestamp"`

	EventType EventType `json:"event_type" validate:"required,oneof=authentication authorization data_access configuration_change security_incident policy_violation system_event compliance_event"`
	Action    string    `json:"action,omitempty"`
	Result    Result    `json:"result" validate:"required,oneof=success failure mfa_required blocked step_up_required"`
	Severity  Severity  `json:"severity,omitempty" validate:"omitempty,oneof=info warning error critical"`

	UserID            string   `json:"user_id" validate:"required"`
	UserPrincipalName string   `json:"user_principal_name,omitempty"`
	UserRoles         []string `json:"user_roles,omitempty"`

	SourceIP       string          `json:"source_ip,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	GeographicInfo *GeoInfo        `json:"geographic_info,omitempty"`
	DeviceInfo     *DeviceInfo     `json:"device_info,omitempty"`
	AuthDetails    *AuthDetails    `json:"auth_details,omitempty"`
	RiskAssessment *RiskAssessment `json:"risk_assessment,omitempty"`

	// RawData is an opaque provider payload kept as-is.
	RawData              json.RawMessage `json:"raw_data,omitempty"`
	Tags                 []string        `json:"tags,omitempty"`
	PolicyViolations     []string        `json:"policy_violations,omitempty"`
	ComplianceFrameworks []string        `json:"compliance_frameworks,omitempty"`
}

// observation projects the event onto what the risk cache consumes.
func (e *Event) observation() risk.Observation {
	o := risk.Observation{
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		EventType: string(e.EventType),
		Result:    string(e.Result),
		SourceIP:  e.SourceIP,
	}
	if e.GeographicInfo != nil {
		o.Country = e.GeographicInfo.Country
	}
	if e.DeviceInfo != nil {
		o.DeviceFingerprint = e.DeviceInfo.Fingerprint
		o.DeviceTrusted = e.DeviceInfo.IsTrusted
	}
	if e.AuthDetails != nil {
		o.FailureReason = e.AuthDetails.FailureReason
	}
	if e.RiskAssessment != nil {
		o.RiskScore = e.RiskAssessment.RiskScore
	}
	return o
}

// NoLimit disables the result cap of a query.
const NoLimit = -1

// DefaultQueryLimit applies when QueryFilter.Limit is zero.
const DefaultQueryLimit = 1000

// DefaultQueryWindow applies when QueryFilter.Start is zero.
const DefaultQueryWindow = 30 * 24 * time.Hour

// QueryFilter selects events. Empty sets impose no constraint; all
// constraints are AND'd.
type QueryFilter struct {
	Start      time.Time // inclusive; zero means End minus 30 days
	End        time.Time // inclusive; zero means now
	UserIDs    []string
	EventTypes []EventType
	Results    []Result
	SourceIPs  []string
	Limit      int // 0 means DefaultQueryLimit, NoLimit means unbounded
}

// Count is a (key, count) pair of a summary ranking.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary aggregates the events of a trailing window.
type Summary struct {
	Days      int            `json:"days"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Total     int            `json:"total_events"`
	ByType    map[string]int `json:"by_event_type"`
	ByResult  map[string]int `json:"by_result"`
	TopUsers  []Count        `json:"top_users"`
	TopIPs    []Count        `json:"top_source_ips"`
	Earliest  *time.Time     `json:"earliest,omitempty"`
	Latest    *time.Time     `json:"latest,omitempty"`
	Truncated bool           `json:"truncated"`
	MaxEvents int            `json:"max_events"`
}

// ExportFormat defines the format for exporting audit events.
type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportJSONL ExportFormat = "jsonl"
	ExportCSV   ExportFormat = "csv"
	ExportAvro  ExportFormat = "avro"
)

// ExportRequest describes one export.
type ExportRequest struct {
	Start      time.Time
	End        time.Time
	Format     ExportFormat
	OutputPath string // empty selects reports/audit_export_<start>_<end>_<unix>.<ext>
}

// StorageInfo describes the on-disk state of a store.
type StorageInfo struct {
	BasePath      string     `json:"base_path"`
	TotalSizeMB   float64    `json:"total_size_mb"`
	TotalFiles    int        `json:"total_files"`
	Format        string     `json:"format"`
	Rotation      string     `json:"rotation"`
	RetentionDays int        `json:"retention_days"`
	Compression   bool       `json:"compression_enabled"`
	IndexEnabled  bool       `json:"index_enabled"`
	Cache         risk.Stats `json:"cache_statistics"`
}

// Store defines the public operations of the audit store.
type Store interface {
	// Store durably appends an event and returns its id.
	Store(ctx context.Context, event *Event) (string, error)

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Summary aggregates the trailing days.
	Summary(ctx context.Context, days int) (*Summary, error)

	// Export writes the events of a window to a file and returns its path.
	Export(ctx context.Context, req ExportRequest) (string, error)

	// Info describes the store.
	Info(ctx context.Context) (*StorageInfo, error)

	// Close releases the store.
	Close() error
}
