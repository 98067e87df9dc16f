package util

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"slices"
	"testing"
)

func TestIntRangeToIntList(t *testing.T) {
	tests := []struct {
		input    string
		expected []int
		err      bool
	}{
		{"1-5", []int{1, 2, 3, 4, 5}, false},            // Valid range
		{"10-15", []int{10, 11, 12, 13, 14, 15}, false}, // Valid range
		{"5-5", []int{5}, false},                        // Single value range
		{"", []int{}, true},                             // Empty input
		{"5-3", nil, true},                              // Invalid range (start > end)
		{"abc-def", nil, true},                          // Invalid input format
		{"1-", nil, true},                               // Missing end value
		{"-5", nil, true},                               // Missing start value
		{"1-5-10", nil, true},                           // Invalid format with extra dash
		{"1-abc", nil, true},                            // Invalid end value
		{"abc-5", nil, true},                            // Invalid start value
		{"3", []int{3}, false},                          // Single value without range
	}

	for _, test := range tests {
		result, err := IntRangeToIntList(test.input)
		if (err != nil) != test.err {
			t.Errorf("expected error: %v, got: %v for input %s, err: %v", test.err, err != nil, test.input, err)
		}
		if !test.err && !slices.Equal(result, test.expected) {
			t.Errorf("expected %v, got %v for input %s", test.expected, result, test.input)
		}
	}
}

func TestSelectiveIntRangeToIntList(t *testing.T) {
	tests := []struct {
		input    string
		expected []int
		err      bool
	}{
		{"1-3,5,7-9", []int{1, 2, 3, 5, 7, 8, 9}, false},             // Valid mixed ranges and single values
		{"10-12,15,20-22", []int{10, 11, 12, 15, 20, 21, 22}, false}, // Valid mixed ranges
		{"5", []int{5}, false},                                       // Single value
		{"1-3,5-5,7", []int{1, 2, 3, 5, 7}, false},                   // Mixed ranges with single value range
		{"", nil, true},            // Empty input
		{"1-3,abc,7-9", nil, true}, // Invalid input with non-numeric value
		{"1-3,5-2,7-9", nil, true}, // Invalid range (start > end)
		{"1-3,,7-9", nil, true},    // Invalid format with empty segment
		{"1-3,7-9-", nil, true},    // Invalid format with trailing dash
		{"1-3,7-abc", nil, true},   // Invalid range with non-numeric end
	}

	for _, test := range tests {
		result, err := SelectiveIntRangeToIntList(test.input)
		if (err != nil) != test.err {
			t.Errorf("expected error: %v, got: %v for input %s, err: %v", test.err, err != nil, test.input, err)
		}
		if !test.err && !slices.Equal(result, test.expected) {
			t.Errorf("expected %v, got %v for input %s", test.expected, result, test.input)
		}
	}
}

func TestThreadsOfProcess(t *testing.T) {
	tids, err := ThreadsOfProcess(os.Getpid())
	if err != nil {
		t.Fatalf("failed to get threads of current process: %v", err)
	}
	if len(tids) == 0 {
		t.Fatal("expected at least one thread")
	}
	if !slices.Contains(tids, os.Getpid()) {
		t.Errorf("expected main thread %d in %v", os.Getpid(), tids)
	}
	if !slices.IsSorted(tids) {
		t.Errorf("expected sorted thread ids, got %v", tids)
	}
}

func TestThreadsOfProcessMissing(t *testing.T) {
	// pid 0 has no /proc entry
	if _, err := ThreadsOfProcess(0); err == nil {
		t.Error("expected an error for a non-existent process")
	}
}
