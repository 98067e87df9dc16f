// Package events defines the hardware, software, and hardware-cache counter
// events known to the tool and parses user-supplied event specs.
package events

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Event identifies a kernel counter event by perf event type and config.
type Event struct {
	Name   string
	Type   uint32
	Config uint64
}

// ScopedEvent is an Event restricted to user or kernel space by a modifier.
// An empty modifier counts both.
type ScopedEvent struct {
	Event
	Modifier string // "", "u", or "k"
}

// FullName returns the event name with its modifier suffix, e.g., "cpu-cycles:u".
func (e ScopedEvent) FullName() string {
	if e.Modifier == "" {
		return e.Name
	}
	return e.Name + ":" + e.Modifier
}

// ConfigureAttr fills in the event type, config, and privilege exclusion bits.
func (e ScopedEvent) ConfigureAttr(attr *unix.PerfEventAttr) {
	attr.Type = e.Type
	attr.Config = e.Config
	switch e.Modifier {
	case "u":
		attr.Bits |= unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv
	case "k":
		attr.Bits |= unix.PerfBitExcludeUser | unix.PerfBitExcludeHv
	}
}

// HardwareEvents are the architecturally defined CPU counter events.
var HardwareEvents = []Event{
	{"cpu-cycles", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES},
	{"instructions", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS},
	{"cache-references", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_REFERENCES},
	{"cache-misses", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES},
	{"branch-instructions", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS},
	{"branch-misses", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES},
	{"bus-cycles", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BUS_CYCLES},
	{"stalled-cycles-frontend", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_STALLED_CYCLES_FRONTEND},
	{"stalled-cycles-backend", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_STALLED_CYCLES_BACKEND},
	{"ref-cycles", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_REF_CPU_CYCLES},
}

// SoftwareEvents are the kernel-maintained counter events.
var SoftwareEvents = []Event{
	{"cpu-clock", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CPU_CLOCK},
	{"task-clock", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_TASK_CLOCK},
	{"page-faults", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS},
	{"context-switches", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CONTEXT_SWITCHES},
	{"cpu-migrations", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CPU_MIGRATIONS},
	{"minor-faults", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS_MIN},
	{"major-faults", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS_MAJ},
	{"alignment-faults", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_ALIGNMENT_FAULTS},
	{"emulation-faults", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_EMULATION_FAULTS},
}

// CacheEvents are the hardware cache events, generated from the
// level/operation/result matrix the kernel defines. Unsupported combinations
// are rejected by the kernel when the counter is opened.
var CacheEvents []Event

var cacheLevels = []struct {
	name string
	id   uint64
}{
	{"L1-dcache", unix.PERF_COUNT_HW_CACHE_L1D},
	{"L1-icache", unix.PERF_COUNT_HW_CACHE_L1I},
	{"LLC", unix.PERF_COUNT_HW_CACHE_LL},
	{"dTLB", unix.PERF_COUNT_HW_CACHE_DTLB},
	{"iTLB", unix.PERF_COUNT_HW_CACHE_ITLB},
	{"branch", unix.PERF_COUNT_HW_CACHE_BPU},
	{"node", unix.PERF_COUNT_HW_CACHE_NODE},
}

var cacheOps = []struct {
	name   string
	plural string
	id     uint64
}{
	{"load", "loads", unix.PERF_COUNT_HW_CACHE_OP_READ},
	{"store", "stores", unix.PERF_COUNT_HW_CACHE_OP_WRITE},
	{"prefetch", "prefetches", unix.PERF_COUNT_HW_CACHE_OP_PREFETCH},
}

var eventsByName = make(map[string]Event)

func init() {
	for _, level := range cacheLevels {
		for _, op := range cacheOps {
			access := Event{
				Name:   level.name + "-" + op.plural,
				Type:   unix.PERF_TYPE_HW_CACHE,
				Config: level.id | op.id<<8 | unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS<<16,
			}
			miss := Event{
				Name:   level.name + "-" + op.name + "-misses",
				Type:   unix.PERF_TYPE_HW_CACHE,
				Config: level.id | op.id<<8 | unix.PERF_COUNT_HW_CACHE_RESULT_MISS<<16,
			}
			CacheEvents = append(CacheEvents, access, miss)
		}
	}
	for _, table := range [][]Event{HardwareEvents, SoftwareEvents, CacheEvents} {
		for _, event := range table {
			eventsByName[event.Name] = event
		}
	}
}

// Defaults returns the event specs measured when the user requests none.
func Defaults() []string {
	return []string{
		"cpu-cycles",
		"stalled-cycles-frontend",
		"stalled-cycles-backend",
		"instructions",
		"branch-instructions",
		"branch-misses",
		"task-clock",
		"context-switches",
		"page-faults",
	}
}

// FindByName returns the event with the given name.
func FindByName(name string) (Event, bool) {
	event, ok := eventsByName[name]
	return event, ok
}

// Parse parses an event spec of the form "name" or "name:modifier" where the
// modifier is "u" to count user space only or "k" to count kernel space only.
func Parse(spec string) (ScopedEvent, error) {
	name := spec
	modifier := ""
	if idx := strings.IndexByte(spec, ':'); idx != -1 {
		name = spec[:idx]
		modifier = spec[idx+1:]
		if modifier != "u" && modifier != "k" {
			return ScopedEvent{}, fmt.Errorf("invalid modifier '%s' in event spec '%s', expected 'u' or 'k'", modifier, spec)
		}
	}
	event, ok := FindByName(name)
	if !ok {
		return ScopedEvent{}, fmt.Errorf("unknown event type '%s'", name)
	}
	return ScopedEvent{Event: event, Modifier: modifier}, nil
}

// IsSupported reports whether the running kernel accepts the event. It opens
// a throwaway counter on the calling process and closes it right away.
func IsSupported(e ScopedEvent) bool {
	attr := unix.PerfEventAttr{
		Size: uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
	}
	e.ConfigureAttr(&attr)
	fd, err := unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return false
	}
	_ = unix.Close(fd)
	return true
}
