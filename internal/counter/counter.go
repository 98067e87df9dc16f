// Package counter opens, reads, and releases groups of perf counter files.
package counter

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"perfstat/internal/events"
	"perfstat/internal/util"
)

// Reading is one raw sample from a single counter file.
type Reading struct {
	Tid         int
	Cpu         int
	Value       uint64
	TimeEnabled uint64
	TimeRunning uint64
	ID          uint64
}

// eventFd is an open counter file along with the thread and cpu it monitors.
type eventFd struct {
	file *os.File
	tid  int
	cpu  int
}

// selection is one event to count and the counter files opened for it.
type selection struct {
	event   events.ScopedEvent
	groupID int
	fds     []*eventFd
}

// EventCounts carries the raw readings collected for one selected event.
type EventCounts struct {
	Event    events.ScopedEvent
	GroupID  int
	Readings []Reading
}

// SelectionSet is an ordered list of event scheduling groups. Events in the
// same group are scheduled onto the hardware together, so their counts cover
// the same time slices.
type SelectionSet struct {
	groups       [][]*selection
	inherit      bool
	enableOnExec bool
}

func NewSelectionSet() *SelectionSet {
	return &SelectionSet{inherit: true}
}

// SetInherit controls whether counters follow new child threads and
// processes. On by default.
func (s *SelectionSet) SetInherit(inherit bool) {
	s.inherit = inherit
}

// SetEnableOnExec arms group leaders to start counting when the monitored
// process calls exec, so counter setup overhead is excluded from the counts.
func (s *SelectionSet) SetEnableOnExec(enable bool) {
	s.enableOnExec = enable
}

// Empty indicates whether any events have been selected.
func (s *SelectionSet) Empty() bool {
	return len(s.groups) == 0
}

// Names returns the full names of the selected events in selection order.
func (s *SelectionSet) Names() []string {
	var names []string
	for _, group := range s.groups {
		for _, sel := range group {
			names = append(names, sel.event.FullName())
		}
	}
	return names
}

// AddEvent appends an event spec as its own scheduling group.
func (s *SelectionSet) AddEvent(spec string) error {
	scoped, err := events.Parse(spec)
	if err != nil {
		return err
	}
	if s.has(scoped) {
		return fmt.Errorf("event type %s appears more than once", scoped.FullName())
	}
	s.groups = append(s.groups, []*selection{{event: scoped, groupID: len(s.groups)}})
	return nil
}

// AddGroup appends event specs that are scheduled together as one group.
func (s *SelectionSet) AddGroup(specs []string) error {
	if len(specs) == 0 {
		return errors.New("event group is empty")
	}
	group := make([]*selection, 0, len(specs))
	for _, spec := range specs {
		scoped, err := events.Parse(spec)
		if err != nil {
			return err
		}
		duplicate := s.has(scoped)
		for _, sel := range group {
			if sel.event.Name == scoped.Name && sel.event.Modifier == scoped.Modifier {
				duplicate = true
			}
		}
		if duplicate {
			return fmt.Errorf("event type %s appears more than once", scoped.FullName())
		}
		group = append(group, &selection{event: scoped, groupID: len(s.groups)})
	}
	s.groups = append(s.groups, group)
	return nil
}

func (s *SelectionSet) has(e events.ScopedEvent) bool {
	for _, group := range s.groups {
		for _, sel := range group {
			if sel.event.Name == e.Name && sel.event.Modifier == e.Modifier {
				return true
			}
		}
	}
	return false
}

// OpenForCPUs opens counter files that count all processes on each given cpu.
// Requires root privileges on most systems.
func (s *SelectionSet) OpenForCPUs(cpus []int) error {
	return s.open([]int{-1}, cpus)
}

// OpenForThreadsOnCPUs opens counter files for each thread and cpu pair. A
// cpu value of -1 counts the thread on every cpu it runs on.
func (s *SelectionSet) OpenForThreadsOnCPUs(tids []int, cpus []int) error {
	return s.open(tids, cpus)
}

func (s *SelectionSet) open(tids []int, cpus []int) error {
	for _, tid := range tids {
		for _, cpu := range cpus {
			for _, group := range s.groups {
				groupFd := -1
				for i, sel := range group {
					attr := unix.PerfEventAttr{
						Size: uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
					}
					sel.event.ConfigureAttr(&attr)
					// inherit does not work with the group read format, so
					// every counter file carries its own times and id and is
					// read individually
					attr.Read_format = unix.PERF_FORMAT_TOTAL_TIME_ENABLED |
						unix.PERF_FORMAT_TOTAL_TIME_RUNNING |
						unix.PERF_FORMAT_ID
					if s.inherit {
						attr.Bits |= unix.PerfBitInherit
					}
					// the kernel enables the whole group with its leader
					if i == 0 && s.enableOnExec {
						attr.Bits |= unix.PerfBitDisabled | unix.PerfBitEnableOnExec
					}
					fd, err := unix.PerfEventOpen(&attr, tid, cpu, groupFd, unix.PERF_FLAG_FD_CLOEXEC)
					if err != nil {
						s.Close()
						return openError(sel.event, tid, cpu, err)
					}
					if i == 0 {
						groupFd = fd
					}
					sel.fds = append(sel.fds, &eventFd{
						file: os.NewFile(uintptr(fd), "<perf-event>"),
						tid:  tid,
						cpu:  cpu,
					})
				}
			}
		}
	}
	return nil
}

func openError(event events.ScopedEvent, tid int, cpu int, err error) error {
	if errors.Is(err, syscall.EACCES) {
		const path = "/proc/sys/kernel/perf_event_paranoid"
		data, readErr := os.ReadFile(path)
		data = bytes.TrimSpace(data)
		if val, parseErr := strconv.Atoi(string(data)); readErr != nil || parseErr != nil || val > 0 {
			return fmt.Errorf("failed to open counter for event %s on tid %d, cpu %d: %w (consider: echo 0 | sudo tee %s)",
				event.FullName(), tid, cpu, err, path)
		}
	}
	return fmt.Errorf("failed to open counter for event %s on tid %d, cpu %d: %w", event.FullName(), tid, cpu, err)
}

// StopCounters freezes all open counters so subsequent reads see a single
// consistent stopping point. Counters that already stopped are unaffected.
func (s *SelectionSet) StopCounters() {
	for _, group := range s.groups {
		for _, sel := range group {
			for _, efd := range sel.fds {
				_, _ = unix.IoctlGetInt(int(efd.file.Fd()), unix.PERF_EVENT_IOC_DISABLE)
			}
		}
	}
}

// ReadCounters reads every open counter file once and returns the raw
// readings grouped by event, in selection order.
func (s *SelectionSet) ReadCounters() ([]EventCounts, error) {
	var results []EventCounts
	buf := make([]byte, 4*8)
	for _, group := range s.groups {
		for _, sel := range group {
			counts := EventCounts{Event: sel.event, GroupID: sel.groupID}
			for _, efd := range sel.fds {
				n, err := efd.file.Read(buf)
				if err != nil {
					return nil, fmt.Errorf("failed to read counter for event %s on tid %d, cpu %d: %v",
						sel.event.FullName(), efd.tid, efd.cpu, err)
				}
				if n != len(buf) {
					return nil, fmt.Errorf("short read from counter for event %s on tid %d, cpu %d: %d bytes",
						sel.event.FullName(), efd.tid, efd.cpu, n)
				}
				counts.Readings = append(counts.Readings, decodeReading(buf, efd.tid, efd.cpu))
			}
			results = append(results, counts)
		}
	}
	return results, nil
}

// decodeReading unpacks one counter record: value, time enabled, time
// running, and id, all native-endian u64.
func decodeReading(buf []byte, tid int, cpu int) Reading {
	return Reading{
		Tid:         tid,
		Cpu:         cpu,
		Value:       binary.NativeEndian.Uint64(buf[0:]),
		TimeEnabled: binary.NativeEndian.Uint64(buf[8:]),
		TimeRunning: binary.NativeEndian.Uint64(buf[16:]),
		ID:          binary.NativeEndian.Uint64(buf[24:]),
	}
}

// Close releases every open counter file.
func (s *SelectionSet) Close() {
	for _, group := range s.groups {
		for _, sel := range group {
			for _, efd := range sel.fds {
				_ = efd.file.Close()
			}
			sel.fds = nil
		}
	}
}

// OnlineCPUs returns the ids of the cpus that are currently online.
func OnlineCPUs() ([]int, error) {
	data, err := os.ReadFile("/sys/devices/system/cpu/online")
	if err != nil {
		return nil, fmt.Errorf("failed to read online cpus: %v", err)
	}
	cpus, err := util.SelectiveIntRangeToIntList(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse online cpu list: %v", err)
	}
	return cpus, nil
}
