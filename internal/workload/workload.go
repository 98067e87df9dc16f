// Package workload spawns the command to be measured, paused just before
// exec, so counters configured with enable-on-exec start counting exactly at
// the command's first instruction and exclude setup overhead.
//
// The paused child is this same executable running as a small exec helper,
// selected by an environment marker. The helper blocks on a start pipe until
// released, then replaces itself with the target command. Exec failures are
// reported back through a second pipe that the kernel closes automatically
// when exec succeeds.
package workload

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

const execHelperEnv = "PERFSTAT_EXEC_WORKLOAD"

// start pipe read end and exec report write end in the helper child
const (
	startFd  = 3
	reportFd = 4
)

// Workload is a command spawned in a paused state. Its pid is valid from
// creation; the command itself begins only when Start is called.
type Workload struct {
	cmd        *exec.Cmd
	startPipe  *os.File
	execReport *os.File
	started    bool
}

// New spawns the helper child for the given command line, paused before
// exec. The command must be resolvable in PATH.
func New(args []string) (*Workload, error) {
	if len(args) == 0 {
		return nil, errors.New("workload command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("workload command not found: %v", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own executable: %v", err)
	}
	startRead, startWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create workload start pipe: %v", err)
	}
	reportRead, reportWrite, err := os.Pipe()
	if err != nil {
		startRead.Close()
		startWrite.Close()
		return nil, fmt.Errorf("failed to create workload report pipe: %v", err)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), execHelperEnv+"=1")
	cmd.ExtraFiles = []*os.File{startRead, reportWrite}
	// the helper must not outlive us
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGHUP}
	if err := cmd.Start(); err != nil {
		startRead.Close()
		startWrite.Close()
		reportRead.Close()
		reportWrite.Close()
		return nil, fmt.Errorf("failed to start workload: %v", err)
	}
	startRead.Close()
	reportWrite.Close()
	return &Workload{cmd: cmd, startPipe: startWrite, execReport: reportRead}, nil
}

// Pid returns the process id the counters should monitor.
func (w *Workload) Pid() int {
	return w.cmd.Process.Pid
}

// Start releases the paused child so it execs the target command. It blocks
// until the exec outcome is known and returns an error when the exec failed.
func (w *Workload) Start() error {
	if w.started {
		return errors.New("workload already started")
	}
	w.started = true
	if _, err := w.startPipe.Write([]byte{0}); err != nil {
		w.startPipe.Close()
		w.execReport.Close()
		_ = w.cmd.Wait()
		return fmt.Errorf("failed to release workload: %v", err)
	}
	w.startPipe.Close()
	// EOF means the report pipe was closed by a successful exec, anything
	// read from it is the exec error
	buf := make([]byte, 256)
	n, _ := w.execReport.Read(buf)
	w.execReport.Close()
	if n > 0 {
		_ = w.cmd.Wait()
		return fmt.Errorf("failed to start workload: %s", strings.TrimSpace(string(buf[:n])))
	}
	return nil
}

// Wait blocks until the command exits.
func (w *Workload) Wait() error {
	return w.cmd.Wait()
}

// Signal forwards a signal to the command.
func (w *Workload) Signal(sig os.Signal) error {
	return w.cmd.Process.Signal(sig)
}

// ExecHelperRequested indicates whether this process was spawned as the
// paused exec helper. Checked at startup before any command parsing.
func ExecHelperRequested() bool {
	return os.Getenv(execHelperEnv) == "1"
}

// RunExecHelper waits for the release byte and execs the target command in
// place of this process. It never returns.
func RunExecHelper() {
	start := os.NewFile(startFd, "workload-start")
	report := os.NewFile(reportFd, "workload-exec-report")
	buf := make([]byte, 1)
	if _, err := start.Read(buf); err != nil {
		// parent went away before releasing us
		os.Exit(1)
	}
	start.Close()
	// close the report pipe on successful exec so the parent sees EOF
	unix.CloseOnExec(reportFd)
	err := errors.New("no command")
	if len(os.Args) > 1 {
		var path string
		path, err = exec.LookPath(os.Args[1])
		if err == nil {
			env := slices.DeleteFunc(os.Environ(), func(e string) bool {
				return strings.HasPrefix(e, execHelperEnv+"=")
			})
			err = unix.Exec(path, os.Args[1:], env)
		}
	}
	fmt.Fprintf(report, "%v", err)
	report.Close()
	os.Exit(127)
}
