// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

/*
Package progress provides a CLI activity indicator for the collection phase.
*/
package progress

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

var spinChars []string = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Spinner is a single-line activity indicator written to stderr. On a
// terminal it redraws in place; elsewhere it prints only new statuses.
// Status may be called while the ticker goroutine is drawing.
type Spinner struct {
	mu          sync.Mutex
	label       string
	status      string
	statusIsNew bool
	spinIndex   int
	ticker      *time.Ticker
	done        chan bool
	spinning    bool
}

// NewSpinner creates a spinner with a fixed label.
func NewSpinner(label string) *Spinner {
	s := Spinner{label: label, status: "?"}
	s.done = make(chan bool)
	return &s
}

// Start starts the spinner
func (s *Spinner) Start() {
	s.draw(true)
	s.ticker = time.NewTicker(250 * time.Millisecond)
	s.spinning = true
	go s.onTick()
}

// Finish stops the spinner
func (s *Spinner) Finish() {
	if s.spinning {
		s.ticker.Stop()
		s.done <- true
		s.draw(false)
		s.spinning = false
	}
}

// Status updates the status text shown next to the spinner.
func (s *Spinner) Status(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != s.status {
		s.status = status
		s.statusIsNew = true
	}
}

func (s *Spinner) onTick() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.draw(true)
		}
	}
}

func (s *Spinner) draw(goUp bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !term.IsTerminal(int(os.Stderr.Fd())) && !s.statusIsNew {
		return
	}
	fmt.Fprintf(os.Stderr, "%-10s  %s  %-40s\n", s.label, spinChars[s.spinIndex], s.status)
	s.statusIsNew = false
	s.spinIndex++
	if s.spinIndex >= len(spinChars) {
		s.spinIndex = 0
	}
	if goUp && term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(os.Stderr, "\x1b[1A")
	}
}
