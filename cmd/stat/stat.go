// Package stat is a subcommand of the root command. It counts hardware and software
// perf events for a command, for existing processes or threads, or for the whole system.
package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"perfstat/internal/common"
	"perfstat/internal/counter"
	"perfstat/internal/events"
	"perfstat/internal/progress"
	"perfstat/internal/util"
	"perfstat/internal/workload"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const cmdName = "stat"

var examples = []string{
	fmt.Sprintf("  Count default events for a command:       $ %s %s -- ls -l", common.AppName, cmdName),
	fmt.Sprintf("  Count selected events for five seconds:   $ %s %s -e cpu-cycles,instructions --duration 5", common.AppName, cmdName),
	fmt.Sprintf("  Count user and kernel space separately:    $ %s %s -e branch-misses:u,branch-misses:k -- ./myapp", common.AppName, cmdName),
	fmt.Sprintf("  Count events for existing processes:       $ %s %s -p 1234,6789 --duration 10", common.AppName, cmdName),
	fmt.Sprintf("  Count events on all cpus:                  $ %s %s -a --duration 10", common.AppName, cmdName),
	fmt.Sprintf("  Schedule events as a single group:         $ %s %s --group cpu-cycles,instructions -- ./myapp", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Count perf events for a command, existing processes, or the whole system",
	Long:          "",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.ArbitraryArgs,
	SilenceErrors: true,
}

// stopFlag requests the end of one collection. It is set when the workload
// exits or a termination signal arrives and polled by the wait loop.
type stopFlag struct {
	mu      sync.Mutex
	stopped bool
}

func (f *stopFlag) set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *stopFlag) isSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

var (
	// event options
	flagEvents    []string
	flagGroups    []string
	flagNoInherit bool
	// collection options
	flagAllCpus  bool
	flagCpuList  string
	flagDuration float64
	flagPidList  []string
	flagTidList  []string
	// output options
	flagCsv            bool
	flagOutputPath     string
	flagVerbose        bool
	flagMetricFilePath string
	flagXlsxPath       string

	// positional arguments
	argsCommand []string
)

const (
	flagEventsName    = "events"
	flagGroupsName    = "group"
	flagNoInheritName = "no-inherit"

	flagAllCpusName  = "all-cpus"
	flagCpuListName  = "cpu"
	flagDurationName = "duration"
	flagPidListName  = "pids"
	flagTidListName  = "tids"

	flagCsvName            = "csv"
	flagOutputPathName     = "output"
	flagVerboseName        = "verbose"
	flagMetricFilePathName = "metrics"
	flagXlsxPathName       = "xlsx"
)

// set by validateFlags for use in runCmd
var (
	gCpuList           []int
	gMetricDefinitions []MetricDefinition
)

func init() {
	Cmd.Flags().StringSliceVarP(&flagEvents, flagEventsName, "e", []string{}, "")
	Cmd.Flags().StringArrayVar(&flagGroups, flagGroupsName, []string{}, "")
	Cmd.Flags().BoolVar(&flagNoInherit, flagNoInheritName, false, "")

	Cmd.Flags().BoolVarP(&flagAllCpus, flagAllCpusName, "a", false, "")
	Cmd.Flags().StringVar(&flagCpuList, flagCpuListName, "", "")
	Cmd.Flags().Float64Var(&flagDuration, flagDurationName, 0, "")
	Cmd.Flags().StringSliceVarP(&flagPidList, flagPidListName, "p", []string{}, "")
	Cmd.Flags().StringSliceVarP(&flagTidList, flagTidListName, "t", []string{}, "")

	Cmd.Flags().BoolVar(&flagCsv, flagCsvName, false, "")
	Cmd.Flags().StringVarP(&flagOutputPath, flagOutputPathName, "o", "", "")
	Cmd.Flags().BoolVar(&flagVerbose, flagVerboseName, false, "")
	Cmd.Flags().StringVar(&flagMetricFilePath, flagMetricFilePathName, "", "")
	Cmd.Flags().StringVar(&flagXlsxPath, flagXlsxPathName, "", "")

	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s [flags] [-- command args]\n\n", cmd.CommandPath())
	cmd.Printf("Examples:\n%s\n\n", cmd.Example)
	cmd.Println("Arguments:")
	cmd.Printf("  command (optional): command to run and count events for\n\n")
	cmd.Println("Flags:")
	for _, group := range getFlagGroups() {
		cmd.Printf("  %s:\n", group.GroupName)
		for _, flag := range group.Flags {
			flagDefault := ""
			if cmd.Flags().Lookup(flag.Name).DefValue != "" {
				flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(flag.Name).DefValue)
			}
			flagName := flag.Name
			if shorthand := cmd.Flags().Lookup(flag.Name).Shorthand; shorthand != "" {
				flagName = fmt.Sprintf("%s, -%s", flag.Name, shorthand)
			}
			cmd.Printf("    --%-20s %s%s\n", flagName, flag.Help, flagDefault)
		}
	}
	cmd.Println("\nGlobal Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		flagDefault := ""
		if cmd.Parent().PersistentFlags().Lookup(pf.Name).DefValue != "" {
			flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(pf.Name).DefValue)
		}
		cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
	})
	return nil
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	// event options
	flags := []common.Flag{
		{
			Name: flagEventsName,
			Help: fmt.Sprintf("comma separated list of events to count, each with an optional :u or :k modifier. Use '%s list' to see the event names. If not provided, a default set of events is counted.", common.AppName),
		},
		{
			Name: flagGroupsName,
			Help: "comma separated list of events to schedule as a single group. May be given more than once for multiple groups.",
		},
		{
			Name: flagNoInheritName,
			Help: "do not count events in child processes and threads created by the monitored threads",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Event Options",
		Flags:     flags,
	})
	// collection options
	flags = []common.Flag{
		{
			Name: flagAllCpusName,
			Help: "count events on all cpus instead of monitoring threads. Requires root.",
		},
		{
			Name: flagCpuListName,
			Help: "comma separated list of cpu numbers or ranges to count on, e.g., 0,2,4-6",
		},
		{
			Name: flagDurationName,
			Help: "number of seconds to count instead of running a command. Fractions are allowed.",
		},
		{
			Name: flagPidListName,
			Help: "comma separated list of process ids to monitor",
		},
		{
			Name: flagTidListName,
			Help: "comma separated list of thread ids to monitor",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Collection Options",
		Flags:     flags,
	})
	// output options
	flags = []common.Flag{
		{
			Name: flagCsvName,
			Help: "report in comma separated form for machine parsing",
		},
		{
			Name: flagOutputPathName,
			Help: "write the report to a file instead of stdout",
		},
		{
			Name: flagVerboseName,
			Help: "include the raw per thread and cpu counter readings in the report",
		},
		{
			Name: flagMetricFilePathName,
			Help: "metric definition file in YAML format. Derived metrics are computed from the corrected counts and appended to the report.",
		},
		{
			Name: flagXlsxPathName,
			Help: "write the report to the named file in xlsx format",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Output Options",
		Flags:     flags,
	})
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	// some flags are not valid when a command argument is provided
	if len(args) > 0 {
		argsCommand = args
		if cmd.Flags().Lookup(flagDurationName).Changed {
			return common.FlagValidationError(cmd, "duration is not supported with a command argument")
		}
	}
	// confirm valid duration
	if cmd.Flags().Lookup(flagDurationName).Changed && flagDuration <= 0 {
		return common.FlagValidationError(cmd, "duration must be a positive number of seconds")
	}
	// confirm the event specs parse
	for _, spec := range flagEvents {
		if _, err := events.Parse(spec); err != nil {
			return common.FlagValidationError(cmd, err.Error())
		}
	}
	for _, group := range flagGroups {
		if group == "" {
			return common.FlagValidationError(cmd, "group must name at least one event")
		}
		for _, spec := range strings.Split(group, ",") {
			if _, err := events.Parse(spec); err != nil {
				return common.FlagValidationError(cmd, err.Error())
			}
		}
	}
	// confirm valid cpu list
	if flagCpuList != "" {
		cpus, err := util.SelectiveIntRangeToIntList(flagCpuList)
		if err != nil {
			return common.FlagValidationError(cmd, fmt.Sprintf("invalid cpu list: %s", flagCpuList))
		}
		gCpuList = cpus
	}
	// verify pids and tids are integers
	for _, pid := range flagPidList {
		if _, err := strconv.Atoi(pid); err != nil {
			return common.FlagValidationError(cmd, "pids must be integers")
		}
	}
	for _, tid := range flagTidList {
		if _, err := strconv.Atoi(tid); err != nil {
			return common.FlagValidationError(cmd, "tids must be integers")
		}
	}
	// system-wide collection counts everything already
	if flagAllCpus && (len(flagPidList) > 0 || len(flagTidList) > 0) {
		return common.FlagValidationError(cmd, "cannot monitor processes or threads when counting on all cpus")
	}
	if flagAllCpus && !util.IsRoot() {
		return common.FlagValidationError(cmd, "counting on all cpus requires root privileges")
	}
	// load metric definitions before the run starts so mistakes surface early
	if flagMetricFilePath != "" {
		defs, err := loadMetricDefinitions(flagMetricFilePath)
		if err != nil {
			return common.FlagValidationError(cmd, err.Error())
		}
		gMetricDefinitions = defs
	}
	return nil
}

// addDefaultEvents fills an empty selection set with the default events,
// probing each against the running kernel and skipping the ones it does not
// support.
func addDefaultEvents(selections *counter.SelectionSet) error {
	for _, spec := range events.Defaults() {
		scoped, err := events.Parse(spec)
		if err != nil {
			return err
		}
		if !events.IsSupported(scoped) {
			slog.Debug("default event not supported by kernel", slog.String("event", spec))
			continue
		}
		if err := selections.AddEvent(spec); err != nil {
			return err
		}
	}
	if selections.Empty() {
		return fmt.Errorf("failed to add any supported default event types")
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	// appContext is the application context that holds common data and resources.
	appContext := cmd.Parent().Context().Value(common.AppContext{}).(common.AppContext)

	// assemble the events to count
	selections := counter.NewSelectionSet()
	for _, spec := range flagEvents {
		if err := selections.AddEvent(spec); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
	}
	for _, group := range flagGroups {
		if err := selections.AddGroup(strings.Split(group, ",")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
	}
	if selections.Empty() {
		if err := addDefaultEvents(selections); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
	}
	selections.SetInherit(!flagNoInherit)
	slog.Info("counting events", slog.String("events", strings.Join(selections.Names(), ", ")))

	// gather the threads to monitor
	tidSet := mapset.NewSet[int]()
	for _, pid := range flagPidList {
		pidInt, _ := strconv.Atoi(pid) // verified in validateFlags
		tids, err := util.ThreadsOfProcess(pidInt)
		if err != nil {
			err = fmt.Errorf("failed to list threads of process %d: %v", pidInt, err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		tidSet.Append(tids...)
	}
	for _, tid := range flagTidList {
		tidInt, _ := strconv.Atoi(tid)
		tidSet.Add(tidInt)
	}

	// a duration without a command counts while a sleep runs
	workloadArgs := argsCommand
	if len(workloadArgs) == 0 && flagDuration > 0 {
		workloadArgs = []string{"sleep", fmt.Sprintf("%f", flagDuration)}
	}
	var wl *workload.Workload
	if len(workloadArgs) > 0 {
		var err error
		wl, err = workload.New(workloadArgs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
	}
	if !flagAllCpus && tidSet.IsEmpty() {
		if wl == nil {
			err := fmt.Errorf("no threads to monitor, give a command to run or use --%s, --%s, or --%s", flagPidListName, flagTidListName, flagAllCpusName)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		// count the workload from the moment it calls exec
		tidSet.Add(wl.Pid())
		selections.SetEnableOnExec(true)
	}

	// open the counter files
	var err error
	if flagAllCpus {
		cpus := gCpuList
		if len(cpus) == 0 {
			cpus, err = counter.OnlineCPUs()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				slog.Error(err.Error())
				cmd.SilenceUsage = true
				return err
			}
		}
		err = selections.OpenForCPUs(cpus)
	} else {
		cpus := gCpuList
		if len(cpus) == 0 {
			cpus = []int{-1}
		}
		err = selections.OpenForThreadsOnCPUs(mapset.Sorted(tidSet), cpus)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	defer selections.Close()

	// handle signals
	stop := &stopFlag{}
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChannel)
	go func() {
		sig := <-sigChannel
		slog.Info("received signal", slog.String("signal", sig.String()))
		stop.set()
		if wl != nil {
			// pass the signal along so the workload exits too
			if err := wl.Signal(sig); err != nil {
				slog.Debug("failed to signal workload", slog.String("error", err.Error()))
			}
		}
	}()

	// release the workload and start the clock
	startTime := time.Now()
	if wl != nil {
		if err := wl.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		go func() {
			if err := wl.Wait(); err != nil {
				slog.Debug("workload finished", slog.String("error", err.Error()))
			} else {
				slog.Debug("workload finished")
			}
			stop.set()
		}()
	}

	// wait for the workload to finish or a signal to arrive
	status := "counting, press Ctrl+c to stop"
	if flagDuration > 0 {
		status = fmt.Sprintf("counting for %g seconds", flagDuration)
	} else if wl != nil {
		status = fmt.Sprintf("counting while %s runs", workloadArgs[0])
	}
	spinner := progress.NewSpinner(cmdName)
	spinner.Start()
	spinner.Status(status)
	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	for !stop.isSet() {
		time.Sleep(time.Second)
		if interactive {
			spinner.Status(fmt.Sprintf("%s (%.0fs elapsed)", status, time.Since(startTime).Seconds()))
		}
	}
	selections.StopCounters()
	durationSec := time.Since(startTime).Seconds()
	spinner.Finish()

	// read the counts and build the report
	results, err := selections.ReadCounters()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	summaries := newCounterSummaries(flagCsv)
	for _, counts := range results {
		summaries.addCounts(counts)
	}
	summaries.autoGenerate()
	summaries.generateComments(durationSec)
	var derived []derivedMetric
	if len(gMetricDefinitions) > 0 {
		derived = evaluateMetrics(gMetricDefinitions, summaries, durationSec)
	}

	// write the report
	output := os.Stdout
	if flagOutputPath != "" {
		outputPath, err := util.AbsPath(flagOutputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		outputFile, err := os.Create(outputPath) // #nosec G304
		if err != nil {
			err = fmt.Errorf("failed to open %s: %v", flagOutputPath, err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		defer outputFile.Close()
		output = outputFile
	}
	showReport(output, results, summaries, derived, durationSec, flagCsv, flagVerbose)
	if flagXlsxPath != "" {
		xlsxPath, err := util.AbsPath(flagXlsxPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
		if err := createXlsxReport(xlsxPath, summaries, derived, durationSec, appContext.Version); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			cmd.SilenceUsage = true
			return err
		}
	}
	slog.Info("collection complete", slog.String("events", strings.Join(selections.Names(), ", ")), slog.String("duration", fmt.Sprintf("%.2fs", durationSec)))
	return nil
}
