package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"perfstat/internal/counter"
)

func writeMetricFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	err := os.WriteFile(path, []byte(content), 0644)
	assert.NoError(t, err)
	return path
}

func TestLoadMetricDefinitions(t *testing.T) {
	path := writeMetricFile(t, `
- name: IPC
  expression: "[instructions] / [cpu-cycles]"
- name: GHz
  expression: "[cpu-cycles] / duration / 1000000000"
`)
	defs, err := loadMetricDefinitions(path)
	assert.NoError(t, err)
	assert.Len(t, defs, 2)
	assert.Equal(t, "IPC", defs[0].Name)
	assert.Equal(t, "GHz", defs[1].Name)
	assert.NotNil(t, defs[0].Evaluable)
	assert.NotNil(t, defs[1].Evaluable)
}

func TestLoadMetricDefinitionsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ""},
		{name: "missing name", content: "- expression: \"[instructions]\"\n"},
		{name: "missing expression", content: "- name: IPC\n"},
		{name: "unparsable expression", content: "- name: IPC\n  expression: \"[instructions] /\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeMetricFile(t, tt.content)
			_, err := loadMetricDefinitions(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMetricDefinitionsMissingFile(t *testing.T) {
	_, err := loadMetricDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEvaluateMetrics(t *testing.T) {
	path := writeMetricFile(t, `
- name: IPC
  expression: "[instructions] / [cpu-cycles]"
- name: GHz
  expression: "[cpu-cycles] / duration / 1000000000"
- name: KernelBranchMissPct
  expression: "100 * [branch-misses:k] / [branch-instructions:k]"
`)
	defs, err := loadMetricDefinitions(path)
	assert.NoError(t, err)

	cs := newCounterSummaries(false)
	// instructions was multiplexed, its corrected count is count times scale
	cs.addCounts(makeCounts("cpu-cycles", "", 0, counter.Reading{Value: 2000000000, TimeEnabled: 100, TimeRunning: 100}))
	cs.addCounts(makeCounts("instructions", "", 1, counter.Reading{Value: 1000000000, TimeEnabled: 200, TimeRunning: 100}))
	cs.addCounts(makeCounts("branch-misses", "k", 2, counter.Reading{Value: 10, TimeEnabled: 100, TimeRunning: 100}))
	cs.addCounts(makeCounts("branch-instructions", "k", 3, counter.Reading{Value: 1000, TimeEnabled: 100, TimeRunning: 100}))

	metrics := evaluateMetrics(defs, cs, 2.0)
	assert.Len(t, metrics, 3)
	assert.Equal(t, "IPC", metrics[0].Name)
	assert.InDelta(t, 1.0, metrics[0].Value, 1e-9)
	assert.Equal(t, "GHz", metrics[1].Name)
	assert.InDelta(t, 1.0, metrics[1].Value, 1e-9)
	assert.Equal(t, "KernelBranchMissPct", metrics[2].Name)
	assert.InDelta(t, 1.0, metrics[2].Value, 1e-9)
}

func TestEvaluateMetricsUnmeasuredEvent(t *testing.T) {
	path := writeMetricFile(t, `
- name: MissRate
  expression: "[cache-misses] / [cache-references]"
`)
	defs, err := loadMetricDefinitions(path)
	assert.NoError(t, err)

	cs := newCounterSummaries(false)
	cs.addCounts(makeCounts("cache-misses", "", 0, counter.Reading{Value: 10, TimeEnabled: 100, TimeRunning: 100}))

	// the metric is reported as NaN rather than failing the run
	metrics := evaluateMetrics(defs, cs, 1.0)
	assert.Len(t, metrics, 1)
	assert.Equal(t, "MissRate", metrics[0].Name)
	assert.True(t, math.IsNaN(metrics[0].Value))
}

func TestEvaluateExpressionRecoversFromPanic(t *testing.T) {
	// a nil evaluable makes the evaluator panic, which is reported as an error
	def := MetricDefinition{Name: "broken", Expression: "x"}
	_, err := evaluateExpression(def, map[string]any{})
	assert.Error(t, err)
}
