package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

// User-defined derived metrics computed from the multiplexing-corrected
// counts after a run, loaded from a YAML definition file.

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/casbin/govaluate"
	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v2"
)

// MetricDefinition is one named expression over event names. Event names
// appear in brackets with the modifier suffix included, e.g.,
// "[instructions] / [cpu-cycles]" or "[branch-misses:u]". The wall-clock
// duration of the run in seconds is available as "duration".
type MetricDefinition struct {
	Name       string                         `yaml:"name"`
	Expression string                         `yaml:"expression"`
	Evaluable  *govaluate.EvaluableExpression `yaml:"-"` // parse expression once, store here for use in metric evaluation
}

// derivedMetric is an evaluated metric. Value is NaN when the expression
// references events that were not measured or cannot be computed.
type derivedMetric struct {
	Name  string
	Value float64
}

// loadMetricDefinitions reads and parses the metric definition file. Called
// before the run starts so definition mistakes abort early.
func loadMetricDefinitions(path string) ([]MetricDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric definitions: %v", err)
	}
	var defs []MetricDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse metric definitions in %s: %v", path, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no metric definitions found in %s", path)
	}
	for i := range defs {
		if defs[i].Name == "" {
			return nil, fmt.Errorf("metric definition %d in %s has no name", i+1, path)
		}
		if defs[i].Expression == "" {
			return nil, fmt.Errorf("metric %s has no expression", defs[i].Name)
		}
		evaluable, err := govaluate.NewEvaluableExpression(defs[i].Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expression for metric %s: %v", defs[i].Name, err)
		}
		defs[i].Evaluable = evaluable
	}
	return defs, nil
}

// evaluateMetrics computes every defined metric from the corrected counts,
// i.e., count multiplied by scale. Metrics referencing unmeasured events
// evaluate to NaN rather than failing the run.
func evaluateMetrics(defs []MetricDefinition, summaries *CounterSummaries, durationSec float64) []derivedMetric {
	variables := map[string]any{"duration": durationSec}
	available := mapset.NewSet[string]("duration")
	for _, s := range summaries.summaries {
		variables[s.Name()] = float64(s.Count) * s.Scale
		available.Add(s.Name())
	}
	metrics := make([]derivedMetric, 0, len(defs))
	for _, def := range defs {
		metric := derivedMetric{Name: def.Name, Value: math.NaN()}
		needed := mapset.NewSet[string](def.Evaluable.Vars()...)
		if missing := needed.Difference(available); missing.Cardinality() > 0 {
			slog.Debug("metric references unmeasured events",
				slog.String("metric", def.Name),
				slog.String("missing", strings.Join(mapset.Sorted(missing), ", ")))
		} else if result, err := evaluateExpression(def, variables); err != nil {
			slog.Debug("failed to evaluate expression", slog.String("error", err.Error()))
		} else if value, ok := result.(float64); ok {
			metric.Value = value
		}
		slog.Debug("processed metric", slog.String("name", def.Name), slog.String("expression", def.Expression), slog.String("value", fmt.Sprintf("%f", metric.Value)))
		metrics = append(metrics, metric)
	}
	return metrics
}

// evaluateExpression calls the evaluator such that panics that come from the
// evaluator are caught
func evaluateExpression(def MetricDefinition, variables map[string]any) (result any, err error) {
	defer func() {
		if errx := recover(); errx != nil {
			err = fmt.Errorf("%v", errx)
		}
	}()
	if result, err = def.Evaluable.Evaluate(variables); err != nil {
		err = fmt.Errorf("%v : %s : %s", err, def.Name, def.Expression)
	}
	return
}
