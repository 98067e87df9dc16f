package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"perfstat/internal/counter"
)

func TestShowReport(t *testing.T) {
	cs := newCounterSummaries(false)
	cs.addCounts(makeCounts("task-clock", "", 0, counter.Reading{Value: 2000000000, TimeEnabled: 100, TimeRunning: 100}))
	cs.addCounts(makeCounts("instructions", "", 1, counter.Reading{Value: 1234567, TimeEnabled: 100, TimeRunning: 100}))
	cs.generateComments(1.0)

	var buf bytes.Buffer
	showReport(&buf, nil, cs, nil, 1.0, false, false)

	expected := "Performance counter statistics:\n" +
		"\n" +
		"  2000.000000(ms)  task-clock     # 2.000000 cpus used  (100%)\n" +
		"        1,234,567  instructions   # 1.235 M/sec         (100%)\n" +
		"\n" +
		"Total test time: 1.000000 seconds.\n"
	assert.Equal(t, expected, buf.String())
}

func TestShowReportCsv(t *testing.T) {
	counts := makeCounts("task-clock", "", 0,
		counter.Reading{Tid: 100, Cpu: 2, Value: 1500000, TimeEnabled: 100, TimeRunning: 100, ID: 42})
	cs := newCounterSummaries(true)
	cs.addCounts(counts)
	cs.generateComments(0.5)

	var buf bytes.Buffer
	showReport(&buf, []counter.EventCounts{counts}, cs, nil, 0.5, true, true)

	expected := "Performance counter statistics,\n" +
		"task-clock,tid,100,cpu,2,count,1500000,time_enabled,100,time running,100,id,42,\n" +
		"1.500000(ms),task-clock,0.003000,cpus used,(100%),\n" +
		"Total test time,0.500000,seconds,\n"
	assert.Equal(t, expected, buf.String())
}

func TestShowMarksGeneratedSummaries(t *testing.T) {
	cs := newCounterSummaries(false)
	cs.addCounts(makeCounts("cpu-cycles", "u", 0, counter.Reading{Value: 600000000, TimeEnabled: 100, TimeRunning: 100}))
	cs.addCounts(makeCounts("cpu-cycles", "k", 1, counter.Reading{Value: 400000000, TimeEnabled: 100, TimeRunning: 100}))
	cs.autoGenerate()
	cs.generateComments(1.0)

	var buf bytes.Buffer
	cs.show(&buf)

	expected := "    600,000,000  cpu-cycles:u   # 0.600000 GHz  (100%)\n" +
		"    400,000,000  cpu-cycles:k   # 0.400000 GHz  (100%)\n" +
		"  1,000,000,000  cpu-cycles     # 1.000000 GHz  (100%) (generated)\n"
	assert.Equal(t, expected, buf.String())
}

func TestShowCsvMarksGeneratedSummaries(t *testing.T) {
	cs := newCounterSummaries(true)
	cs.addCounts(makeCounts("cpu-cycles", "u", 0, counter.Reading{Value: 600000000, TimeEnabled: 100, TimeRunning: 100}))
	cs.addCounts(makeCounts("cpu-cycles", "k", 1, counter.Reading{Value: 400000000, TimeEnabled: 100, TimeRunning: 100}))
	cs.autoGenerate()
	cs.generateComments(1.0)

	var buf bytes.Buffer
	cs.show(&buf)

	expected := "600000000,cpu-cycles:u,0.600000,GHz,(100%),\n" +
		"400000000,cpu-cycles:k,0.400000,GHz,(100%),\n" +
		"1000000000,cpu-cycles,1.000000,GHz,(100%) (generated),\n"
	assert.Equal(t, expected, buf.String())
}

func TestShowRuntimePercentage(t *testing.T) {
	// a counter that ran half of its enabled time shows 50%
	cs := newCounterSummaries(true)
	cs.addCounts(makeCounts("cache-misses", "", 0, counter.Reading{Value: 100, TimeEnabled: 200, TimeRunning: 100}))
	cs.generateComments(1.0)

	var buf bytes.Buffer
	cs.show(&buf)
	assert.Equal(t, "100,cache-misses,200.000,/sec,(50%),\n", buf.String())
}

func TestShowRawReadings(t *testing.T) {
	counts := makeCounts("cpu-cycles", "u", 0,
		counter.Reading{Tid: 100, Cpu: 2, Value: 1500000, TimeEnabled: 100, TimeRunning: 90, ID: 42})
	var buf bytes.Buffer
	showRawReadings(&buf, []counter.EventCounts{counts}, false)
	assert.Equal(t, "cpu-cycles:u(tid 100, cpu 2): count 1500000, time_enabled 100, time running 90, id 42\n", buf.String())
}

func TestShowDerivedMetrics(t *testing.T) {
	metrics := []derivedMetric{
		{Name: "IPC", Value: 0.5},
		{Name: "MPKI", Value: 12.25},
		{Name: "Broken", Value: math.NaN()},
	}
	var buf bytes.Buffer
	showDerivedMetrics(&buf, metrics, false)
	expected := "\nDerived metrics:\n" +
		"\n" +
		"   0.500000  IPC\n" +
		"  12.250000  MPKI\n" +
		"        NaN  Broken\n"
	assert.Equal(t, expected, buf.String())

	buf.Reset()
	showDerivedMetrics(&buf, metrics, true)
	expected = "Derived metrics,\n" +
		"IPC,0.500000,\n" +
		"MPKI,12.250000,\n" +
		"Broken,NaN,\n"
	assert.Equal(t, expected, buf.String())

	// nothing is written when no metrics are defined
	buf.Reset()
	showDerivedMetrics(&buf, nil, false)
	assert.Equal(t, "", buf.String())
}
