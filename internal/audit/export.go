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
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"authtrail/internal/metrics"
	"authtrail/internal/storage"

	"github.com/goccy/go-json"
	"github.com/hamba/avro/v2/ocf"
)

// DefaultExportWindow applies when ExportRequest.Start is zero.
const DefaultExportWindow = 7 * 24 * time.Hour

// csvBaseColumns lead every CSV export in this order; the remaining
// flattened keys follow sorted.
var csvBaseColumns = []string{
	"event_id", "timestamp", "event_type", "action", "result", "severity",
	"user_id", "user_principal_name", "source_ip", "user_agent",
}

// ParseExportFormat validates a format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(s)); f {
	case ExportJSON, ExportJSONL, ExportCSV, ExportAvro:
		return f, nil
	case "":
		return ExportJSON, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

// exportFailure is the sidecar written next to a failed export.
type exportFailure struct {
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Format   string    `json:"format"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Output   string    `json:"output"`
	Events   int       `json:"events"`
}

// Export writes the events of [Start, End] to a file and returns its path.
// The file is staged under temp/ and renamed into place; on failure a
// <output>.error.json sidecar is written and an *ExportError returned.
func (s *FileStore) Export(ctx context.Context, req ExportRequest) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}

	end := req.End
	if end.IsZero() {
		end = s.now()
	}
	start := req.Start
	if start.IsZero() {
		start = end.Add(-DefaultExportWindow)
	}
	start, end = start.UTC(), end.UTC()

	format, formatErr := ParseExportFormat(string(req.Format))
	ext := string(format)
	if formatErr != nil {
		format, ext = req.Format, "invalid"
	}

	output := req.OutputPath
	if output == "" {
		output = filepath.Join(s.layout.ReportsDir(), fmt.Sprintf("audit_export_%s_%s_%d.%s",
			start.Format("20060102"), end.Format("20060102"), s.now().Unix(), ext))
	}
	if formatErr != nil {
		return "", s.exportFailed(format, output, start, end, 0, formatErr)
	}

	events, err := s.Query(ctx, QueryFilter{Start: start, End: end, Limit: NoLimit})
	if err != nil {
		return "", s.exportFailed(format, output, start, end, 0, err)
	}

	if err := s.writeExport(format, output, events); err != nil {
		return "", s.exportFailed(format, output, start, end, len(events), err)
	}

	os.Remove(sidecarPath(output))
	metrics.RecordExport(string(format), nil)
	s.logger.Info("Exported audit events",
		"format", format,
		"events", len(events),
		"output", output)
	return output, nil
}

func sidecarPath(output string) string {
	return output + ".error.json"
}

func (s *FileStore) exportFailed(format ExportFormat, output string, start, end time.Time, n int, cause error) error {
	metrics.RecordExport(string(format), cause)
	sidecar := sidecarPath(output)

	data, err := json.MarshalIndent(exportFailure{
		Error:    cause.Error(),
		FailedAt: s.now().UTC(),
		Format:   string(format),
		Start:    start,
		End:      end,
		Output:   output,
		Events:   n,
	}, "", "  ")
	if err == nil {
		if err = os.MkdirAll(filepath.Dir(sidecar), 0755); err == nil {
			err = storage.WriteFileAtomic(sidecar, data)
		}
	}
	if err != nil {
		s.logger.Error("Failed to write export error record", "path", sidecar, "error", err)
		sidecar = ""
	}

	s.logger.Error("Audit export failed", "format", format, "output", output, "error", cause)
	return &ExportError{Format: format, Output: output, Sidecar: sidecar, Err: cause}
}

// writeExport encodes events into a temp file and moves it to output.
func (s *FileStore) writeExport(format ExportFormat, output string, events []Event) error {
	tmp, err := os.CreateTemp(s.layout.TempDir(), "audit_export_*."+string(format)+storage.TmpExt)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	switch format {
	case ExportJSON:
		err = writeJSON(w, events)
	case ExportJSONL:
		err = writeJSONL(w, events)
	case ExportCSV:
		err = writeCSV(w, events)
	case ExportAvro:
		err = writeAvro(w, events)
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	return moveFile(tmpName, output)
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeJSON(w io.Writer, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func writeJSONL(w io.Writer, events []Event) error {
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// flattenEvent turns an event into column -> text. Nested objects are
// joined with "_", arrays and raw_data become JSON text.
func flattenEvent(e *Event) (map[string]string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(m))
	if len(e.RawData) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, e.RawData); err != nil {
			out["raw_data"] = string(e.RawData)
		} else {
			out["raw_data"] = buf.String()
		}
		delete(m, "raw_data")
	}
	if err := flatten("", m, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(prefix string, v any, out map[string]string) error {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			key := k
			if prefix != "" {
				key = prefix + "_" + k
			}
			if err := flatten(key, val, out); err != nil {
				return err
			}
		}
	case []any:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		out[prefix] = string(b)
	case nil:
		out[prefix] = ""
	case string:
		out[prefix] = t
	case bool:
		out[prefix] = strconv.FormatBool(t)
	case json.Number:
		out[prefix] = t.String()
	default:
		out[prefix] = fmt.Sprint(t)
	}
	return nil
}

func writeCSV(w io.Writer, events []Event) error {
	rows := make([]map[string]string, 0, len(events))
	extra := make(map[string]struct{})
	base := make(map[string]struct{}, len(csvBaseColumns))
	for _, c := range csvBaseColumns {
		base[c] = struct{}{}
	}

	for i := range events {
		row, err := flattenEvent(&events[i])
		if err != nil {
			return err
		}
		for k := range row {
			if _, ok := base[k]; !ok {
				extra[k] = struct{}{}
			}
		}
		rows = append(rows, row)
	}

	header := append([]string(nil), csvBaseColumns...)
	rest := make([]string, 0, len(extra))
	for k := range extra {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	header = append(header, rest...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// avroSchema is the flattened record schema of Avro exports.
const avroSchema = `{
  "type": "record",
  "name": "AuditEvent",
  "namespace": "authtrail",
  "fields": [
    {"name": "event_id", "type": "string"},
    {"name": "timestamp", "type": {"type": "long", "logicalType": "timestamp-micros"}},
    {"name": "event_type", "type": "string"},
    {"name": "action", "type": "string", "default": ""},
    {"name": "result", "type": "string"},
    {"name": "severity", "type": "string", "default": ""},
    {"name": "user_id", "type": "string"},
    {"name": "user_principal_name", "type": "string", "default": ""},
    {"name": "source_ip", "type": "string", "default": ""},
    {"name": "user_agent", "type": "string", "default": ""},
    {"name": "country", "type": "string", "default": ""},
    {"name": "device_fingerprint", "type": "string", "default": ""},
    {"name": "auth_method", "type": "string", "default": ""},
    {"name": "failure_reason", "type": "string", "default": ""},
    {"name": "risk_level", "type": "string", "default": ""},
    {"name": "risk_score", "type": ["null", "double"], "default": null},
    {"name": "tags", "type": {"type": "array", "items": "string"}, "default": []},
    {"name": "raw_data", "type": "string", "default": ""}
  ]
}`

// AvroEvent is the row type of Avro exports.
type AvroEvent struct {
	EventID           string    `avro:"event_id"`
	Timestamp         time.Time `avro:"timestamp"`
	EventType         string    `avro:"event_type"`
	Action            string    `avro:"action"`
	Result            string    `avro:"result"`
	Severity          string    `avro:"severity"`
	UserID            string    `avro:"user_id"`
	UserPrincipalName string    `avro:"user_principal_name"`
	SourceIP          string    `avro:"source_ip"`
	UserAgent         string    `avro:"user_agent"`
	Country           string    `avro:"country"`
	DeviceFingerprint string    `avro:"device_fingerprint"`
	AuthMethod        string    `avro:"auth_method"`
	FailureReason     string    `avro:"failure_reason"`
	RiskLevel         string    `avro:"risk_level"`
	RiskScore         *float64  `avro:"risk_score"`
	Tags              []string  `avro:"tags"`
	RawData           string    `avro:"raw_data"`
}

func toAvro(e *Event) AvroEvent {
	a := AvroEvent{
		EventID:           e.EventID,
		Timestamp:         e.Timestamp.UTC(),
		EventType:         string(e.EventType),
		Action:            e.Action,
		Result:            string(e.Result),
		Severity:          string(e.Severity),
		UserID:            e.UserID,
		UserPrincipalName: e.UserPrincipalName,
		SourceIP:          e.SourceIP,
		UserAgent:         e.UserAgent,
		Tags:              e.Tags,
		RawData:           string(e.RawData),
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if e.GeographicInfo != nil {
		a.Country = e.GeographicInfo.Country
	}
	if e.DeviceInfo != nil {
		a.DeviceFingerprint = e.DeviceInfo.Fingerprint
	}
	if e.AuthDetails != nil {
		a.AuthMethod = e.AuthDetails.Method
		a.FailureReason = e.AuthDetails.FailureReason
	}
	if e.RiskAssessment != nil {
		a.RiskLevel = string(e.RiskAssessment.RiskLevel)
		a.RiskScore = e.RiskAssessment.RiskScore
	}
	return a
}

func writeAvro(w io.Writer, events []Event) error {
	enc, err := ocf.NewEncoder(avroSchema, w, ocf.WithCodec(ocf.Deflate))
	if err != nil {
		return err
	}
	for i := range events {
		if err := enc.Encode(toAvro(&events[i])); err != nil {
			enc.Close()
			return err
		}
	}
	return enc.Close()
}
