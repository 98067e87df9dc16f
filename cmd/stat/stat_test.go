package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

// resetFlags returns the command flags to their defaults between test cases.
func resetFlags() {
	flagEvents = []string{}
	flagGroups = []string{}
	flagNoInherit = false
	flagAllCpus = false
	flagCpuList = ""
	flagDuration = 0
	flagPidList = []string{}
	flagTidList = []string{}
	flagCsv = false
	flagOutputPath = ""
	flagVerbose = false
	flagMetricFilePath = ""
	flagXlsxPath = ""
	argsCommand = nil
	gCpuList = nil
	gMetricDefinitions = nil
	Cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
}

func TestValidateFlagsCommandArgs(t *testing.T) {
	resetFlags()
	assert.NoError(t, validateFlags(Cmd, []string{"ls", "-l"}))
	assert.Equal(t, []string{"ls", "-l"}, argsCommand)

	resetFlags()
	assert.NoError(t, validateFlags(Cmd, nil))
	assert.Empty(t, argsCommand)
}

func TestValidateFlagsDurationWithCommand(t *testing.T) {
	resetFlags()
	flagDuration = 5
	Cmd.Flags().Lookup(flagDurationName).Changed = true
	assert.Error(t, validateFlags(Cmd, []string{"ls"}))
}

func TestValidateFlagsNonPositiveDuration(t *testing.T) {
	resetFlags()
	flagDuration = -1
	Cmd.Flags().Lookup(flagDurationName).Changed = true
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagDuration = 0
	Cmd.Flags().Lookup(flagDurationName).Changed = true
	assert.Error(t, validateFlags(Cmd, nil))
}

func TestValidateFlagsEvents(t *testing.T) {
	resetFlags()
	flagEvents = []string{"never-heard-of-it"}
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagEvents = []string{"cpu-cycles:x"}
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagEvents = []string{"cpu-cycles:u", "instructions"}
	assert.NoError(t, validateFlags(Cmd, nil))
}

func TestValidateFlagsGroups(t *testing.T) {
	resetFlags()
	flagGroups = []string{""}
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagGroups = []string{"cpu-cycles,never-heard-of-it"}
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagGroups = []string{"cpu-cycles,instructions", "branch-misses:k"}
	assert.NoError(t, validateFlags(Cmd, nil))
}

func TestValidateFlagsCpuList(t *testing.T) {
	resetFlags()
	flagCpuList = "0,2,4-6"
	assert.NoError(t, validateFlags(Cmd, nil))
	assert.Equal(t, []int{0, 2, 4, 5, 6}, gCpuList)

	resetFlags()
	flagCpuList = "zero"
	assert.Error(t, validateFlags(Cmd, nil))
}

func TestValidateFlagsPidsAndTids(t *testing.T) {
	resetFlags()
	flagPidList = []string{"1234", "not-a-pid"}
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagTidList = []string{"12.5"}
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagPidList = []string{"1234"}
	flagTidList = []string{"5678"}
	assert.NoError(t, validateFlags(Cmd, nil))
}

func TestValidateFlagsAllCpusConflicts(t *testing.T) {
	resetFlags()
	flagAllCpus = true
	flagPidList = []string{"1234"}
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	flagAllCpus = true
	flagTidList = []string{"1234"}
	assert.Error(t, validateFlags(Cmd, nil))
}

func TestValidateFlagsMetricFile(t *testing.T) {
	resetFlags()
	flagMetricFilePath = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, validateFlags(Cmd, nil))

	resetFlags()
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("- name: IPC\n  expression: \"[instructions] / [cpu-cycles]\"\n"), 0644))
	flagMetricFilePath = path
	assert.NoError(t, validateFlags(Cmd, nil))
	assert.Len(t, gMetricDefinitions, 1)
}
