// Package list is a subcommand of the root command. It prints the names of the
// perf events that can be counted, grouped by kind.
package list

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io"
	"strings"

	"perfstat/internal/common"
	"perfstat/internal/events"

	"github.com/spf13/cobra"
)

const cmdName = "list"

var examples = []string{
	fmt.Sprintf("  List the events known on this machine:  $ %s %s", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "List the perf events that can be counted",
	Long:          "",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

func init() {
	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s\n\n", cmd.CommandPath())
	cmd.Printf("Examples:\n%s\n", cmd.Example)
	return nil
}

// showEventList prints every known event grouped by kind. Events the running
// kernel rejects are marked, e.g., hardware events on a VM without a PMU.
func showEventList(w io.Writer, supported func(events.ScopedEvent) bool) {
	kinds := []struct {
		title string
		list  []events.Event
	}{
		{title: "hardware events", list: events.HardwareEvents},
		{title: "software events", list: events.SoftwareEvents},
		{title: "hardware cache events", list: events.CacheEvents},
	}
	for i, kind := range kinds {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "List of %s:\n", kind.title)
		for _, e := range kind.list {
			marker := ""
			if !supported(events.ScopedEvent{Event: e}) {
				marker = " (not supported on this kernel)"
			}
			fmt.Fprintf(w, "  %s%s\n", e.Name, marker)
		}
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	showEventList(cmd.OutOrStdout(), events.IsSupported)
	return nil
}
