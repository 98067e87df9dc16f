package workload

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"testing"
)

// The test binary doubles as the exec helper, the same way the application
// binary does in main.
func TestMain(m *testing.M) {
	if ExecHelperRequested() {
		RunExecHelper()
	}
	os.Exit(m.Run())
}

func TestRunToCompletion(t *testing.T) {
	w, err := New([]string{"true"})
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}
	if w.Pid() <= 0 {
		t.Errorf("expected a valid pid, got %d", w.Pid())
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start workload: %v", err)
	}
	if err := w.Wait(); err != nil {
		t.Errorf("expected clean exit, got %v", err)
	}
}

func TestNonZeroExit(t *testing.T) {
	w, err := New([]string{"false"})
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start workload: %v", err)
	}
	if err := w.Wait(); err == nil {
		t.Error("expected a non-zero exit error")
	}
}

func TestCommandNotFound(t *testing.T) {
	if _, err := New([]string{"perfstat-no-such-command"}); err == nil {
		t.Error("expected an error for an unresolvable command")
	}
	if _, err := New(nil); err == nil {
		t.Error("expected an error for an empty command")
	}
}

func TestDoubleStart(t *testing.T) {
	w, err := New([]string{"true"})
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start workload: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("expected second start to fail")
	}
	_ = w.Wait()
}

func TestExecHelperNotRequestedByDefault(t *testing.T) {
	if ExecHelperRequested() {
		t.Error("helper marker unexpectedly set in test environment")
	}
}
