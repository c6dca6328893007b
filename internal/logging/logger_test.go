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

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %s, want %s", tt.level, got, tt.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"WARNING", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"unknown", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, INFO, cfg.Level)
	assert.False(t, cfg.JSONMode)
	assert.NotNil(t, cfg.Output)
}

func captureJSON(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	SetJSONMode(true)
	SetGlobalLevel(level)
	t.Cleanup(func() {
		SetGlobalLevel(INFO)
		SetJSONMode(false)
		SetGlobalOutput(nil)
	})
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line: %s", line)
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerStructuredFields(t *testing.T) {
	buf := captureJSON(t, DEBUG)

	logger := NewLogger("writer")
	logger.Info("rotated file", "path", "/tmp/x.jsonl", "size", 42)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "rotated file", entries[0]["message"])
	assert.Equal(t, "writer", entries[0]["component"])
	assert.Equal(t, "/tmp/x.jsonl", entries[0]["path"])
	assert.EqualValues(t, 42, entries[0]["size"])
	assert.Equal(t, "info", entries[0]["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := captureJSON(t, WARN)

	logger := NewLogger("test")
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be present")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be present")
	}
}

func TestLoggerLevelChangeAppliesToExistingLogger(t *testing.T) {
	buf := captureJSON(t, ERROR)

	logger := NewLogger("test")
	logger.Info("hidden")
	SetGlobalLevel(DEBUG)
	logger.Debug("visible")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "visible")
}

func TestLoggerWith(t *testing.T) {
	buf := captureJSON(t, INFO)

	logger := NewLogger("maintenance").With("pass", 3)
	logger.Info("pass finished", "deleted", 1)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0]["pass"])
	assert.EqualValues(t, 1, entries[0]["deleted"])
	assert.Equal(t, "maintenance", entries[0]["component"])
}

func TestLoggerConsoleMode(t *testing.T) {
	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	SetGlobalLevel(DEBUG)
	defer func() {
		SetGlobalLevel(INFO)
		SetGlobalOutput(nil)
	}()

	logger := NewLogger("test")
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	output := buf.String()
	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if !strings.Contains(output, level) {
			t.Errorf("Expected %s in output", level)
		}
	}
}
