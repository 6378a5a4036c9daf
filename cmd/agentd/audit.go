// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/pflag"

	"github.com/cafelua/agentd/lib/audit"
)

const payloadColumnWidth = 60

func (a *app) auditCommand() *command {
	return &command{
		Name:    "audit",
		Summary: "Inspect the audit log",
		Subcommands: []*command{
			a.auditQueryCommand(),
			a.auditStatsCommand(),
			a.auditExportCommand(),
		},
	}
}

// bindFilter registers the filter flags shared by query and export.
func bindFilter(flagSet *pflag.FlagSet, filter *audit.Filter) {
	flagSet.StringVar(&filter.RequestID, "request-id", "", "only events for this request")
	flagSet.StringVar(&filter.EventType, "event-type", "", "only events of this type (tool_use, tool_result, approval_request, approval_decision, usage, error)")
	flagSet.StringVar(&filter.ToolName, "tool-name", "", "only events for this tool")
	flagSet.StringVar(&filter.From, "from", "", "earliest timestamp, inclusive (e.g. 2026-03-01 or 2026-03-01T12:00:00.000)")
	flagSet.StringVar(&filter.To, "to", "", "latest timestamp, inclusive")
}

func checkFilter(filter audit.Filter) error {
	if filter.EventType == "" {
		return nil
	}
	_, err := audit.ParseKind(filter.EventType)
	return err
}

// openStore loads the configuration and opens the audit store.
func (a *app) openStore() (*audit.Store, error) {
	cfg, logger, err := a.setup()
	if err != nil {
		return nil, err
	}
	return audit.Open(audit.Config{Path: cfg.Audit.Path, Clock: a.clock, Logger: logger})
}

func (a *app) auditQueryCommand() *command {
	var filter audit.Filter
	var outputJSON bool
	return &command{
		Name:    "query",
		Summary: "List audit events, newest first",
		Usage:   "agentd audit query [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := a.newFlagSet("query")
			bindFilter(flagSet, &filter)
			flagSet.IntVar(&filter.Limit, "limit", audit.DefaultQueryLimit, fmt.Sprintf("maximum events (at most %d)", audit.MaxQueryLimit))
			flagSet.IntVar(&filter.Offset, "offset", 0, "skip this many of the newest matching events")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON (the default when stdout is not a terminal)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if err := checkFilter(filter); err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.Query(ctx, filter)
			if err != nil {
				return err
			}
			if outputJSON || !a.stdoutTerminal {
				return writeJSON(a.stdout, events)
			}
			return writeEventTable(a.stdout, events)
		},
	}
}

func (a *app) auditStatsCommand() *command {
	var outputJSON bool
	return &command{
		Name:    "stats",
		Summary: "Summarize the audit log",
		Usage:   "agentd audit stats [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := a.newFlagSet("stats")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON (the default when stdout is not a terminal)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			if outputJSON || !a.stdoutTerminal {
				return writeJSON(a.stdout, stats)
			}
			return writeStats(a.stdout, stats)
		},
	}
}

func (a *app) auditExportCommand() *command {
	var filter audit.Filter
	var format, compression, outputPath string
	return &command{
		Name:    "export",
		Summary: "Export the audit log as JSON Lines or CBOR",
		Description: `Write every matching audit event, newest first, as JSON Lines or a
CBOR sequence, optionally compressed. The event count, byte count, and
BLAKE3 digest of the written bytes are printed to stderr.`,
		Usage: "agentd audit export [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := a.newFlagSet("export")
			bindFilter(flagSet, &filter)
			flagSet.StringVar(&format, "format", string(audit.FormatJSONL), "record format: jsonl or cbor")
			flagSet.StringVar(&compression, "compression", string(audit.CompressionNone), "compression: none, zstd, or lz4")
			flagSet.StringVarP(&outputPath, "output", "o", "-", "destination file, - for stdout")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if err := checkFilter(filter); err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var destination io.Writer = a.stdout
			var file *os.File
			if outputPath != "-" {
				file, err = os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}
				defer file.Close()
				destination = file
			}

			result, err := store.Export(ctx, destination, audit.ExportOptions{
				Filter:      filter,
				Format:      audit.Format(format),
				Compression: audit.Compression(compression),
			})
			if err != nil {
				return err
			}
			if file != nil {
				if err := file.Close(); err != nil {
					return fmt.Errorf("closing export file: %w", err)
				}
			}
			fmt.Fprintf(a.stderr, "exported %d events (%d bytes, blake3 %s)\n", result.Events, result.Bytes, result.Digest)
			return nil
		},
	}
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(value)
}

func writeEventTable(w io.Writer, events []audit.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "no audit events")
		return err
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tREQUEST\tTYPE\tTOOL\tSUCCESS\tPAYLOAD")
	for _, event := range events {
		success := "-"
		if event.Success != nil {
			success = strconv.FormatBool(*event.Success)
		}
		tool := event.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.ID, event.Timestamp, event.RequestID, event.EventType, tool, success,
			abbreviate(string(event.Payload), payloadColumnWidth))
	}
	return tw.Flush()
}

func writeStats(w io.Writer, stats audit.Stats) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "total events\t%d\n", stats.TotalEvents)
	fmt.Fprintf(tw, "total cost\t%.6f\n", stats.TotalCost)
	if len(stats.ByEventType) > 0 {
		fmt.Fprintln(tw, "\nEVENT TYPE\tCOUNT")
		for _, count := range stats.ByEventType {
			fmt.Fprintf(tw, "%s\t%d\n", count.Key, count.Count)
		}
	}
	if len(stats.ByToolName) > 0 {
		fmt.Fprintln(tw, "\nTOOL\tCOUNT")
		for _, count := range stats.ByToolName {
			fmt.Fprintf(tw, "%s\t%d\n", count.Key, count.Count)
		}
	}
	return tw.Flush()
}

// abbreviate shortens s to at most width runes, ending in "...".
func abbreviate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width-3]) + "..."
}
