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
Package banner provides the startup banner display for authtrail.

USAGE:
======

	banner.PrintTo(writer)                 // Name, version and copyright
	banner.PrintWithConfigTo(writer, cfg)  // Banner plus effective configuration

Colors use ANSI escape codes.
*/
package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"authtrail/internal/config"
)

const bannerText = `
   __ _ _   _| |_| |__ | |_ _ __ __ _(_) |
  / _' | | | | __| '_ \| __| '__/ _' | | |
 | (_| | |_| | |_| | | | |_| | | (_| | | |
  \__,_|\__,_|\__|_| |_|\__|_|  \__,_|_|_|
`

// ANSI escape codes for terminal text formatting.
const (
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information
const (
	Version   = "0.4.0"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.Trim(bannerText, "\n"), "\n")
}

// PrintTo writes the banner to w.
func PrintTo(w io.Writer) {
	printHeader(w)
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
}

// PrintWithConfig prints the banner and configuration to stdout.
func PrintWithConfig(cfg *config.Config) {
	PrintWithConfigTo(os.Stdout, cfg)
}

// PrintWithConfigTo writes the banner with the effective configuration.
func PrintWithConfigTo(w io.Writer, cfg *config.Config) {
	printHeader(w)

	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)

	const lineWidth = 78

	printSectionHeader(w, "Storage", lineWidth)
	s := cfg.Storage
	printRow3(w, fmtKV("Path", AnsiGreen+s.BasePath+AnsiReset), fmtKV("Format", s.Format), fmtKV("Rotation", s.Rotation))
	printRow3(w,
		fmtKV("Max file", formatMB(s.MaxFileSizeMB)),
		fmtKV("Retention", fmt.Sprintf("%dd", s.RetentionDays)),
		fmtKV("Replay", fmt.Sprintf("%dd", s.ReplayDays)))
	fmt.Fprintln(w)

	printSectionHeader(w, "Lifecycle", lineWidth)
	printRow3(w,
		fmtEnabled("Compression", s.CompressOldFiles),
		fmtEnabled("Backups", s.BackupEnabled),
		fmtEnabled("Index", s.IndexEnabled))
	if cfg.Maintenance.Enabled {
		printRow2(w, fmtKV("Maintenance", AnsiGreen+"every "+cfg.Maintenance.Interval.String()+AnsiReset),
			fmtEnabled("Status snapshot", cfg.Maintenance.StatusSnapshot))
	} else {
		printRow2(w, fmtKV("Maintenance", AnsiYellow+"off"+AnsiReset), "")
	}
	fmt.Fprintln(w)

	printSectionHeader(w, "Endpoints", lineWidth)
	metrics := AnsiDim + "off" + AnsiReset
	if cfg.Metrics.Enabled {
		metrics = AnsiGreen + cfg.Metrics.Addr + "/metrics" + AnsiReset
	}
	forwarder := AnsiDim + "off" + AnsiReset
	if cfg.Forwarder.Enabled {
		forwarder = AnsiGreen + strings.Join(cfg.Forwarder.Brokers, ",") + " -> " + cfg.Forwarder.Topic + AnsiReset
	}
	printRow2(w, fmtKV("Metrics", metrics), fmtKV("Kafka", forwarder))
	fmt.Fprintln(w)

	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
	printLogSeparator(w)
}

func printHeader(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  authtrail"+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  Authentication Audit Event Store"+AnsiReset)
	fmt.Fprintln(w)
}

func printLogSeparator(w io.Writer) {
	const lineWidth = 78
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %svv%s %s%s%s %svv%s\n",
		AnsiYellow, line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line, AnsiReset)
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string, width int) {
	titleLen := len(title) + 4 // "[ title ]"
	leftPad := 2
	rightPad := width - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return AnsiGreen + name + AnsiReset
	}
	return AnsiDim + name + AnsiReset
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func printRow2(w io.Writer, col1, col2 string) {
	fmt.Fprintf(w, "  %-40s %s\n", col1, col2)
}

func formatMB(mb int) string {
	if mb <= 0 {
		return "unlimited"
	}
	if mb >= 1024 && mb%1024 == 0 {
		return fmt.Sprintf("%dGB", mb/1024)
	}
	return fmt.Sprintf("%dMB", mb)
}
