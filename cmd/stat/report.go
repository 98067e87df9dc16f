package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

// Report rendering: header, optional raw readings, aligned summary rows,
// derived metrics, and the total test time trailer.

import (
	"fmt"
	"io"

	"perfstat/internal/counter"
)

// showReport writes the textual report for one run.
func showReport(w io.Writer, results []counter.EventCounts, summaries *CounterSummaries, derived []derivedMetric, durationSec float64, csv bool, verbose bool) {
	if csv {
		fmt.Fprintf(w, "Performance counter statistics,\n")
	} else {
		fmt.Fprintf(w, "Performance counter statistics:\n\n")
	}
	if verbose {
		showRawReadings(w, results, csv)
	}
	summaries.show(w)
	showDerivedMetrics(w, derived, csv)
	if csv {
		fmt.Fprintf(w, "Total test time,%f,seconds,\n", durationSec)
	} else {
		fmt.Fprintf(w, "\nTotal test time: %f seconds.\n", durationSec)
	}
}

// showRawReadings dumps every per-thread, per-cpu counter reading.
func showRawReadings(w io.Writer, results []counter.EventCounts, csv bool) {
	for _, counts := range results {
		for _, r := range counts.Readings {
			if csv {
				fmt.Fprintf(w, "%s,tid,%d,cpu,%d,count,%d,time_enabled,%d,time running,%d,id,%d,\n",
					counts.Event.FullName(), r.Tid, r.Cpu, r.Value, r.TimeEnabled, r.TimeRunning, r.ID)
			} else {
				fmt.Fprintf(w, "%s(tid %d, cpu %d): count %d, time_enabled %d, time running %d, id %d\n",
					counts.Event.FullName(), r.Tid, r.Cpu, r.Value, r.TimeEnabled, r.TimeRunning, r.ID)
			}
		}
	}
}

// show writes one aligned line per summary, or bare rows in csv mode. The
// percentage is the share of enabled time the counter was actually running.
func (cs *CounterSummaries) show(w io.Writer) {
	if cs.csv {
		for _, s := range cs.summaries {
			generated := ","
			if s.AutoGenerated {
				generated = " (generated),"
			}
			fmt.Fprintf(w, "%s,%s,%s,(%.0f%%)%s\n", s.ReadableCount, s.Name(), s.Comment, 1.0/s.Scale*100, generated)
		}
		return
	}
	countWidth, nameWidth, commentWidth := 0, 0, 0
	for _, s := range cs.summaries {
		countWidth = max(countWidth, len(s.ReadableCount))
		nameWidth = max(nameWidth, len(s.Name()))
		commentWidth = max(commentWidth, len(s.Comment))
	}
	for _, s := range cs.summaries {
		generated := ""
		if s.AutoGenerated {
			generated = " (generated)"
		}
		fmt.Fprintf(w, "  %*s  %-*s   # %-*s  (%.0f%%)%s\n",
			countWidth, s.ReadableCount, nameWidth, s.Name(), commentWidth, s.Comment, 1.0/s.Scale*100, generated)
	}
}

// showDerivedMetrics appends the user-defined metric values to the report.
func showDerivedMetrics(w io.Writer, metrics []derivedMetric, csv bool) {
	if len(metrics) == 0 {
		return
	}
	if csv {
		fmt.Fprintf(w, "Derived metrics,\n")
		for _, m := range metrics {
			fmt.Fprintf(w, "%s,%f,\n", m.Name, m.Value)
		}
		return
	}
	fmt.Fprintf(w, "\nDerived metrics:\n\n")
	valueWidth := 0
	for _, m := range metrics {
		valueWidth = max(valueWidth, len(fmt.Sprintf("%f", m.Value)))
	}
	for _, m := range metrics {
		fmt.Fprintf(w, "  %*f  %s\n", valueWidth, m.Value, m.Name)
	}
}
