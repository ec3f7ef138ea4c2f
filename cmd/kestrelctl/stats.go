package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kestrel/kernel"
	"github.com/joshuapare/kestrel/sched"
)

var (
	statsTicks   int
	statsThreads bool
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsTicks, "ticks", 0, "Ticks to run before sampling (0 runs until idle)")
	cmd.Flags().BoolVar(&statsThreads, "threads", false, "List every thread")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show kernel counters after a run",
		Long: `The stats command boots the kernel, runs the demo workload and reports
frame usage, region budget, scheduler and TLB counters and the process table.

Example:
  kestrelctl stats
  kestrelctl stats --ticks 50 --threads
  kestrelctl stats --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context())
		},
	}
}

func runStats(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	k, err := bootKernel(nil)
	if err != nil {
		return err
	}
	defer k.Close()

	if _, err := drive(ctx, k, statsTicks, runMax); err != nil {
		return err
	}
	st := k.Stats()

	if jsonOut {
		return printJSON(st)
	}
	printStats(st)
	return nil
}

func printStats(st kernel.Stats) {
	printInfo("\nKernel Statistics\n")
	printInfo("═════════════════\n")
	printInfo("Uptime:          %d ms (%s EOIs)\n", st.UptimeMs, formatNumber(st.EOIs))

	printInfo("\nPhysical Frames:\n")
	total := st.Frames.Total()
	printInfo("  Total:         %s\n", formatPages(total))
	printInfo("  Used:          %s  %.1f%%\n", formatPages(st.Frames.Used), percent(st.Frames.Used, total))
	printInfo("  Reserved:      %s  %.1f%%\n", formatPages(st.Frames.Reserved), percent(st.Frames.Reserved, total))
	printInfo("  Free:          %s  %.1f%%\n", formatPages(st.Frames.Free), percent(st.Frames.Free, total))

	printInfo("\nRegion Window:\n")
	printInfo("  Budget:        %s pages\n", formatNumber(st.Regions.CapacityPages))
	printInfo("  Allocated:     %s pages in %d objects\n", formatNumber(st.Regions.AllocatedPages), st.Regions.Objects)

	printInfo("\nScheduler:\n")
	printInfo("  Ticks:           %s\n", formatNumber(st.Sched.Ticks))
	printInfo("  Thread switches: %s\n", formatNumber(st.Sched.ThreadSwitches))
	printInfo("  Process switches:%s\n", " "+formatNumber(st.Sched.ProcessSwitch))
	printInfo("  Reaped threads:  %s\n", formatNumber(st.Sched.ReapedThreads))
	printInfo("  Reaped tasks:    %s\n", formatNumber(st.Sched.ReapedTasks))

	printInfo("\nMachine:\n")
	printInfo("  Instructions:  %s\n", formatNumber(st.Machine.Instructions))
	printInfo("  Syscalls:      %s\n", formatNumber(st.Machine.Syscalls))
	printInfo("  Faults:        %s\n", formatNumber(st.Machine.Faults))
	printInfo("  Halts:         %s\n", formatNumber(st.Machine.Halts))

	printInfo("\nTLB:\n")
	lookups := st.TLB.Hits + st.TLB.Misses
	printInfo("  Hits:          %s  %.1f%%\n", formatNumber(st.TLB.Hits), percent(st.TLB.Hits, lookups))
	printInfo("  Misses:        %s\n", formatNumber(st.TLB.Misses))
	printInfo("  Flushes:       %s\n", formatNumber(st.TLB.Flushes))
	printInfo("  Invalidations: %s\n", formatNumber(st.TLB.Invalidation))

	printInfo("\nProcesses (%d):\n", len(st.Processes))
	for _, p := range st.Processes {
		printInfo("  %s\n", processLine(p))
		if !statsThreads {
			continue
		}
		for _, t := range p.Threads {
			printInfo("      %s\n", threadLine(t))
		}
	}
}

func processLine(p sched.ProcessInfo) string {
	mode := "kernel"
	if p.User {
		mode = "user"
	}
	marker := " "
	if p.Active {
		marker = "*"
	}
	return fmt.Sprintf("%s%3d %-12s %-8s %-6s root=%#x threads=%d",
		marker, p.PID, p.Name, p.Status, mode, p.Root, len(p.Threads))
}

func threadLine(t sched.ThreadInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tid %-3d %-12s %-8s rip=%#x stack=%#x", t.TID, t.Name, t.Status, t.RIP, t.Stack)
	if t.Status == sched.Sleeping {
		fmt.Fprintf(&b, " wake=%dms", t.WakeAt)
	}
	if len(t.Joins) > 0 {
		fmt.Fprintf(&b, " joins=%v", t.Joins)
	}
	return b.String()
}
