package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

// Counter summaries: multiplexing correction, user+kernel synthesis, and
// derived comment generation for the counts collected during a run.

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"perfstat/internal/counter"
)

// counters whose scale is within this limit of 1.0 ran all the time
const scaleErrorLimit = 1e-5

var englishPrinter = message.NewPrinter(language.English)

// CounterSummary holds the multiplexing-corrected result for one counted
// event. Count is the raw summed value; Scale is the correction factor to
// estimate the full-time count, 1.0 when the counter was never descheduled.
type CounterSummary struct {
	TypeName      string
	Modifier      string // "", "u", or "k"
	GroupID       int
	Count         uint64
	Scale         float64
	ReadableCount string
	Comment       string
	AutoGenerated bool
}

// Name returns the event name with its modifier suffix, e.g., "cpu-cycles:u".
func (s CounterSummary) Name() string {
	if s.Modifier == "" {
		return s.TypeName
	}
	return s.TypeName + ":" + s.Modifier
}

// monitoredAllTheTime indicates the counter was scheduled on the hardware
// for its entire enabled time, within measurement error.
func (s CounterSummary) monitoredAllTheTime() bool {
	return math.Abs(s.Scale-1.0) < scaleErrorLimit
}

// monitoredAtTheSameTime indicates both counters covered the same time
// slices: either scheduled as one group or each running all the time.
// Cross-counter arithmetic is only meaningful when this holds.
func (s CounterSummary) monitoredAtTheSameTime(other CounterSummary) bool {
	if s.GroupID == other.GroupID {
		return true
	}
	return s.monitoredAllTheTime() && other.monitoredAllTheTime()
}

// CounterSummaries is the ordered collection of summaries for one run.
// Summaries appear in measurement order with synthesized entries appended.
type CounterSummaries struct {
	summaries []CounterSummary
	csv       bool
}

func newCounterSummaries(csv bool) *CounterSummaries {
	return &CounterSummaries{csv: csv}
}

// addCounts sums the raw readings for one event and appends its summary.
// Readings with zero running time carry no information and are excluded.
func (cs *CounterSummaries) addCounts(counts counter.EventCounts) {
	var value, enabled, running uint64
	for _, r := range counts.Readings {
		if r.TimeRunning == 0 {
			continue
		}
		value += r.Value
		enabled += r.TimeEnabled
		running += r.TimeRunning
	}
	scale := 1.0
	if running < enabled && running != 0 {
		scale = float64(enabled) / float64(running)
	}
	cs.addSummary(counts.Event.Name, counts.Event.Modifier, counts.GroupID, value, scale, false)
}

func (cs *CounterSummaries) addSummary(typeName string, modifier string, groupID int, count uint64, scale float64, autoGenerated bool) {
	cs.summaries = append(cs.summaries, CounterSummary{
		TypeName:      typeName,
		Modifier:      modifier,
		GroupID:       groupID,
		Count:         count,
		Scale:         scale,
		ReadableCount: cs.readableCountValue(typeName, count),
		AutoGenerated: autoGenerated,
	})
}

// readableCountValue formats a count for display. Clock events count
// nanoseconds and are shown as milliseconds; everything else is a decimal
// count, with thousands separators unless the output is machine parsable.
func (cs *CounterSummaries) readableCountValue(typeName string, count uint64) string {
	if typeName == "cpu-clock" || typeName == "task-clock" {
		return fmt.Sprintf("%f(ms)", float64(count)/1e6)
	}
	if cs.csv {
		return strconv.FormatUint(count, 10)
	}
	return englishPrinter.Sprintf("%d", count)
}

func (cs *CounterSummaries) findSummary(typeName string, modifier string) *CounterSummary {
	for i := range cs.summaries {
		if cs.summaries[i].TypeName == typeName && cs.summaries[i].Modifier == modifier {
			return &cs.summaries[i]
		}
	}
	return nil
}

// autoGenerate synthesizes a combined summary for event types measured with
// both :u and :k when the pair covered the same time slices and no combined
// summary was measured directly. The synthesized entry keeps the user
// summary's group and scale and is marked as generated in the report.
func (cs *CounterSummaries) autoGenerate() {
	for i := 0; i < len(cs.summaries); i++ {
		s := cs.summaries[i]
		if s.Modifier != "u" {
			continue
		}
		other := cs.findSummary(s.TypeName, "k")
		if other == nil || !other.monitoredAtTheSameTime(s) {
			continue
		}
		if cs.findSummary(s.TypeName, "") != nil {
			continue
		}
		cs.addSummary(s.TypeName, "", s.GroupID, s.Count+other.Count, s.Scale, true)
	}
}

// generateComments fills in the human-meaningful comment for every summary.
func (cs *CounterSummaries) generateComments(durationSec float64) {
	for i := range cs.summaries {
		cs.summaries[i].Comment = cs.commentForSummary(cs.summaries[i], durationSec)
	}
}

// commentRule derives a comment for a summary. It reports false when its
// preconditions do not hold so the next rule is tried.
type commentRule func(cs *CounterSummaries, s CounterSummary, durationSec float64, sep string) (string, bool)

// ordered by priority, the final rate rule always succeeds
var commentRules = []commentRule{
	taskClockComment,
	cpuClockComment,
	cpuCyclesComment,
	instructionsComment,
	missRateComment,
	rateComment,
}

func (cs *CounterSummaries) commentForSummary(s CounterSummary, durationSec float64) string {
	sep := " "
	if cs.csv {
		sep = ","
	}
	for _, rule := range commentRules {
		if comment, ok := rule(cs, s, durationSec, sep); ok {
			return comment
		}
	}
	return ""
}

func taskClockComment(cs *CounterSummaries, s CounterSummary, durationSec float64, sep string) (string, bool) {
	if s.TypeName != "task-clock" {
		return "", false
	}
	usedCpus := float64(s.Count) / 1e9 / (durationSec / s.Scale)
	return fmt.Sprintf("%f%scpus used", usedCpus, sep), true
}

func cpuClockComment(cs *CounterSummaries, s CounterSummary, durationSec float64, sep string) (string, bool) {
	if s.TypeName != "cpu-clock" {
		return "", false
	}
	return "", true
}

func cpuCyclesComment(cs *CounterSummaries, s CounterSummary, durationSec float64, sep string) (string, bool) {
	if s.TypeName != "cpu-cycles" {
		return "", false
	}
	hz := float64(s.Count) / (durationSec / s.Scale)
	return fmt.Sprintf("%f%sGHz", hz/1e9, sep), true
}

func instructionsComment(cs *CounterSummaries, s CounterSummary, durationSec float64, sep string) (string, bool) {
	if s.TypeName != "instructions" || s.Count == 0 {
		return "", false
	}
	other := cs.findSummary("cpu-cycles", s.Modifier)
	if other == nil || !other.monitoredAtTheSameTime(s) {
		return "", false
	}
	cpi := float64(other.Count) / float64(s.Count)
	return fmt.Sprintf("%f%scycles per instruction", cpi, sep), true
}

// missRateComment pairs a "-misses" event with the event counting the total
// it misses against and reports the miss percentage.
func missRateComment(cs *CounterSummaries, s CounterSummary, durationSec float64, sep string) (string, bool) {
	if !strings.HasSuffix(s.TypeName, "-misses") {
		return "", false
	}
	var otherName string
	switch s.TypeName {
	case "cache-misses":
		otherName = "cache-references"
	case "branch-misses":
		otherName = "branch-instructions"
	default:
		otherName = strings.TrimSuffix(s.TypeName, "-misses") + "s"
	}
	other := cs.findSummary(otherName, s.Modifier)
	if other == nil || other.Count == 0 || !other.monitoredAtTheSameTime(s) {
		return "", false
	}
	missRate := float64(s.Count) * 100.0 / float64(other.Count)
	return fmt.Sprintf("%f%%%smiss rate", missRate, sep), true
}

func rateComment(cs *CounterSummaries, s CounterSummary, durationSec float64, sep string) (string, bool) {
	rate := float64(s.Count) / (durationSec / s.Scale)
	switch {
	case rate > 1e9:
		return fmt.Sprintf("%.3f%sG/sec", rate/1e9, sep), true
	case rate > 1e6:
		return fmt.Sprintf("%.3f%sM/sec", rate/1e6, sep), true
	case rate > 1e3:
		return fmt.Sprintf("%.3f%sK/sec", rate/1e3, sep), true
	default:
		return fmt.Sprintf("%.3f%s/sec", rate, sep), true
	}
}
