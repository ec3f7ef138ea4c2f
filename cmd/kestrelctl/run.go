package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kestrel/kernel"
)

var (
	runTicks  int
	runMax    int
	runScreen bool
	runEcho   bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().IntVar(&runTicks, "ticks", 0, "Run exactly this many timer ticks (0 runs until idle)")
	cmd.Flags().IntVar(&runMax, "max-ticks", 100000, "Give up after this many ticks when running until idle")
	cmd.Flags().BoolVar(&runScreen, "screen", false, "Print the final 80x25 screen instead of the transcript")
	cmd.Flags().BoolVar(&runEcho, "echo", false, "Stream console output while the machine runs")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Boot the kernel and run the demo workload",
		Long: `The run command boots the kernel, starts the demo processes and drives
the machine with timer interrupts until only the idle process is left.

Example:
  kestrelctl run
  kestrelctl run --ticks 200 --screen
  kestrelctl run --refresh on-change --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runRun(ctx)
		},
	}
}

// RunResult summarises a finished run.
type RunResult struct {
	Ticks      int      `json:"ticks"`
	UptimeMs   uint64   `json:"uptime_ms"`
	Idle       bool     `json:"idle"`
	Processes  int      `json:"processes"`
	Transcript string   `json:"transcript"`
	Screen     []string `json:"screen,omitempty"`
}

func runRun(ctx context.Context) error {
	var echo io.Writer
	if runEcho && !jsonOut && !quiet {
		echo = os.Stdout
	}
	k, err := bootKernel(echo)
	if err != nil {
		return err
	}
	defer k.Close()

	res, err := drive(ctx, k, runTicks, runMax)
	if err != nil {
		return err
	}
	if runScreen {
		if res.Screen, err = screen(k); err != nil {
			return err
		}
	}

	if jsonOut {
		return printJSON(res)
	}

	if runScreen {
		printInfo("%s\n", strings.Join(res.Screen, "\n"))
	} else if !runEcho {
		printInfo("%s", res.Transcript)
		if !strings.HasSuffix(res.Transcript, "\n") {
			printInfo("\n")
		}
	}
	state := "still running"
	if res.Idle {
		state = "idle"
	}
	printInfo("\n%s ticks, %d ms uptime, %d processes, %s\n",
		formatNumber(uint64(res.Ticks)), res.UptimeMs, res.Processes, state)
	return nil
}

// drive runs k for ticks ticks, or until idle within maxTicks when ticks is 0.
func drive(ctx context.Context, k *kernel.Kernel, ticks, maxTicks int) (RunResult, error) {
	var res RunResult
	if ticks > 0 {
		if err := k.Run(ctx, ticks); err != nil {
			return res, fmt.Errorf("run: %w", err)
		}
		res.Ticks = ticks
	} else {
		n, err := k.RunUntilIdle(ctx, maxTicks)
		res.Ticks = n
		if err != nil {
			return res, fmt.Errorf("run: %w", err)
		}
	}

	st := k.Stats()
	res.UptimeMs = st.UptimeMs
	res.Processes = len(st.Processes)
	res.Idle = len(st.Processes) == 1
	res.Transcript = k.Console.Transcript()
	return res, nil
}

func screen(k *kernel.Kernel) ([]string, error) {
	var (
		rows []string
		err  error
	)
	k.Inspect(func() { rows, err = k.Console.Screen() })
	return rows, err
}
