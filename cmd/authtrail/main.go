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
authtrail - authentication audit event store.

USAGE:
======

	authtrail [options] [command] [command options]

OPTIONS:
========

	-config string    Path to configuration file (YAML format)
	-human-readable   Use human-readable log format instead of JSON
	-quiet            Skip banner and config display, output logs only
	-version          Show version information

COMMANDS:
=========

	ingest     Store JSON events read from stdin, one per line (default)
	query      Print matching events as JSON
	get        Print one event by id (requires the index)
	summary    Print aggregate statistics of the trailing days
	export     Write events of a window to a json/jsonl/csv/avro file
	info       Print storage information
	maintain   Run one maintenance pass and print its report

INGEST SEQUENCE:
================
1. Load configuration and initialize logging
2. Start the metrics server and Kafka forwarder when enabled
3. Open the store and rebuild the risk cache
4. Start the maintenance schedule
5. Store events from stdin until EOF or a shutdown signal
*/
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"authtrail/internal/audit"
	"authtrail/internal/banner"
	"authtrail/internal/config"
	"authtrail/internal/forward"
	"authtrail/internal/logging"
	"authtrail/internal/maintenance"
	"authtrail/internal/metrics"

	"github.com/goccy/go-json"
)

const shutdownTimeout = 10 * time.Second

func printHelp() {
	banner.PrintTo(os.Stdout)
	fmt.Println("\033[1;36mUsage:\033[0m")
	fmt.Println("  authtrail [options] [command] [command options]")
	fmt.Println()
	fmt.Println("\033[1;36mOptions:\033[0m")
	fmt.Println("  -config string    Path to configuration file (YAML format)")
	fmt.Println("  -human-readable   Use human-readable log format instead of JSON")
	fmt.Println("  -quiet            Skip banner and config display, output logs only")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -help, -h         Show this help message")
	fmt.Println()
	fmt.Println("\033[1;36mCommands:\033[0m")
	fmt.Println("  ingest                       Store JSON events from stdin (default)")
	fmt.Println("  query [-start -end -user -type -result -ip -limit]")
	fmt.Println("  get <event-id>")
	fmt.Println("  summary [-days N]")
	fmt.Println("  export [-format json|jsonl|csv|avro] [-start] [-end] [-output path]")
	fmt.Println("  info")
	fmt.Println("  maintain")
	fmt.Println()
	fmt.Println("\033[1;36mEnvironment Variables:\033[0m")
	fmt.Println("  AUTHTRAIL_CONFIG             Configuration file path")
	fmt.Println("  AUTHTRAIL_BASE_PATH          Storage root directory")
	fmt.Println("  AUTHTRAIL_FORMAT             jsonl or json")
	fmt.Println("  AUTHTRAIL_ROTATION           hourly, daily, weekly or size")
	fmt.Println("  AUTHTRAIL_RETENTION_DAYS     Days to keep event files")
	fmt.Println("  AUTHTRAIL_LOG_LEVEL          Log level: debug, info, warn, error")
	fmt.Println()
	fmt.Println("\033[1;36mExamples:\033[0m")
	fmt.Println("  # Store events produced by an identity provider hook")
	fmt.Println("  idp-hook | authtrail -config /etc/authtrail/authtrail.yaml")
	fmt.Println()
	fmt.Println("  # Failed logins of one user in the last day")
	fmt.Println("  authtrail query -user alice -result failure -start 2026-10-14")
	fmt.Println()
	fmt.Println("  # Weekly CSV report")
	fmt.Println("  authtrail export -format csv -output /tmp/week.csv")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" || arg == "-help" || arg == "help" {
			printHelp()
			return
		}
	}

	configPath := flag.String("config", "", "Path to configuration file")
	humanReadable := flag.Bool("human-readable", false, "Use human-readable log format instead of JSON")
	quietMode := flag.Bool("quiet", false, "Skip banner and config display, output logs only")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printHelp
	flag.Parse()

	if *showVersion {
		fmt.Println("authtrail v" + banner.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *humanReadable {
		cfg.LogJSON = false
	}
	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	defer logging.Sync()

	command := "ingest"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "ingest":
		if !*quietMode {
			banner.PrintWithConfig(cfg)
		}
		err = runIngest(ctx, cfg, os.Stdin)
	case "query":
		err = runQuery(ctx, cfg, args)
	case "get":
		err = runGet(ctx, cfg, args)
	case "summary":
		err = runSummary(ctx, cfg, args)
	case "export":
		err = runExport(ctx, cfg, args)
	case "info":
		err = runInfo(ctx, cfg)
	case "maintain":
		err = runMaintain(ctx, cfg)
	default:
		err = fmt.Errorf("unknown command %q (see -help)", command)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, options ...audit.Option) (*audit.FileStore, error) {
	opts, err := audit.OptionsFromConfig(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	return audit.NewFileStore(opts, options...)
}

// runIngest stores newline-delimited JSON events from r until EOF or ctx ends.
func runIngest(ctx context.Context, cfg *config.Config, r io.Reader) error {
	logger := logging.NewLogger("main")
	logger.Info("Starting authtrail", "version", banner.Version, "base_path", cfg.Storage.BasePath)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics)
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", "error", err)
			metricsServer = nil
		} else {
			logger.Info("Metrics server started", "addr", cfg.Metrics.Addr)
		}
	}

	var options []audit.Option
	var forwarder *forward.Forwarder
	if cfg.Forwarder.Enabled {
		forwarder = forward.New(forward.NewKafka(&cfg.Forwarder), cfg.Forwarder.BufferSize)
		forwarder.Start()
		options = append(options, audit.WithSink(forwarder))
	}

	store, err := openStore(cfg, options...)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return err
	}

	var maintainer *maintenance.Manager
	if cfg.Maintenance.Enabled {
		maintainer = maintenance.NewManager(maintenance.ConfigFrom(cfg), store)
		if err := maintainer.Start(ctx); err != nil {
			logger.Error("Failed to start maintenance", "error", err)
			maintainer = nil
		}
	}

	stored, rejected, ingestErr := ingest(ctx, store, r, logger)
	logger.Info("Shutting down...", "stored", stored, "rejected", rejected)

	if maintainer != nil {
		maintainer.Stop()
	}
	if forwarder != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := forwarder.Stop(stopCtx); err != nil {
			logger.Error("Error stopping forwarder", "error", err)
		}
		cancel()
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing store", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Error stopping metrics server", "error", err)
		}
	}
	return ingestErr
}

// ingest reads events line by line. Invalid events are logged and skipped;
// a write failure ends the run.
func ingest(ctx context.Context, store audit.Store, r io.Reader, logger *logging.Logger) (stored, rejected int, err error) {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadBytes('\n')
			if line = bytes.TrimSpace(line); len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return stored, rejected, nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return stored, rejected, fmt.Errorf("failed to read input: %w", err)
				default:
					return stored, rejected, nil
				}
			}
			event, err := audit.ParseEvent(line)
			if err != nil {
				rejected++
				logger.Warn("Rejected audit event", "error", err)
				continue
			}
			if _, err := store.Store(ctx, event); err != nil {
				if errors.Is(err, audit.ErrInvalidEvent) {
					rejected++
					logger.Warn("Rejected audit event", "error", err)
					continue
				}
				return stored, rejected, err
			}
			stored++
		}
	}
}

// stringList collects a repeatable, comma-separated flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// timeFlag accepts RFC 3339 timestamps or plain dates (UTC midnight).
type timeFlag struct {
	t time.Time
}

func (f *timeFlag) String() string {
	if f.t.IsZero() {
		return ""
	}
	return f.t.Format(time.RFC3339)
}

func (f *timeFlag) Set(v string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			f.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", v)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func runQuery(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	var start, end timeFlag
	var users, types, results, ips stringList
	fs.Var(&start, "start", "Window start (default: 30 days before end)")
	fs.Var(&end, "end", "Window end (default: now)")
	fs.Var(&users, "user", "User id (repeatable)")
	fs.Var(&types, "type", "Event type (repeatable)")
	fs.Var(&results, "result", "Result (repeatable)")
	fs.Var(&ips, "ip", "Source IP (repeatable)")
	limit := fs.Int("limit", audit.DefaultQueryLimit, "Maximum events, -1 for no limit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := audit.QueryFilter{
		Start:     start.t,
		End:       end.t,
		UserIDs:   users,
		SourceIPs: ips,
		Limit:     *limit,
	}
	for _, t := range types {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
	}
	for _, r := range results {
		filter.Results = append(filter.Results, audit.Result(r))
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Query(ctx, filter)
	if err != nil {
		return err
	}
	if events == nil {
		events = []audit.Event{}
	}
	return printJSON(events)
}

func runGet(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: authtrail get <event-id>")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	event, err := store.GetEvent(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(event)
}

func runSummary(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	days := fs.Int("days", 7, "Trailing days to summarize")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := store.Summary(ctx, *days)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func runExport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var start, end timeFlag
	fs.Var(&start, "start", "Window start (default: 7 days before end)")
	fs.Var(&end, "end", "Window end (default: now)")
	format := fs.String("format", "json", "json, jsonl, csv or avro")
	output := fs.String("output", "", "Output file (default: reports/audit_export_...)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f, err := audit.ParseExportFormat(*format)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	path, err := store.Export(ctx, audit.ExportRequest{
		Start:      start.t,
		End:        end.t,
		Format:     f,
		OutputPath: *output,
	})
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runInfo(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := store.Info(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runMaintain(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		return err
	}
	report := maintenance.NewManager(maintenance.ConfigFrom(cfg), store).RunOnce(ctx)
	if err := printJSON(report); err != nil {
		return err
	}
	if report.Errors > 0 {
		return fmt.Errorf("maintenance pass finished with %d errors", report.Errors)
	}
	return nil
}
