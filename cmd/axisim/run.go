package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a list of accesses through the bus",
	Long: `Loads the memory, issues every access of the access file at its ` +
		`cycle stamp and checks the responses. Exits non-zero on a protocol ` +
		`violation, a stall, the cycle limit or a read mismatch.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		opts := simOptions{config: cfg, log: log, traceWriter: cmd.OutOrStdout()}
		opts.accessPath, _ = flags.GetString("access")
		opts.memoryPath, _ = flags.GetString("memory")
		opts.memoryOut, _ = flags.GetString("memory-out")
		opts.managerOut, _ = flags.GetString("manager-out")
		opts.traceKind, _ = flags.GetString("trace")
		opts.traceOut, _ = flags.GetString("trace-out")
		opts.traceChannels, _ = flags.GetStringSlice("trace-channels")
		opts.monitorPort, _ = flags.GetInt("monitor-port")
		opts.stallCycles, _ = flags.GetUint64("stall-cycles")
		opts.maxCycles, _ = flags.GetUint64("max-cycles")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		out, err := simulate(ctx, opts)

		fmt.Fprintln(cmd.OutOrStdout(), out)

		if err != nil {
			return err
		}

		for _, m := range out.report.Mismatches {
			fmt.Fprintln(cmd.OutOrStdout(), "mismatch:", m)
		}

		if !out.report.OK() {
			return fmt.Errorf("%d reads returned unexpected data",
				len(out.report.Mismatches))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("access", "access.csv", "Access list to issue")
	flags.String("memory", "", "Initial memory contents")
	flags.String("memory-out", "", "Where to dump the memory after the run")
	flags.String("manager-out", "",
		"Where to dump what the Manager believes memory holds")
	flags.String("trace", "", "Trace format: text, csv or sqlite")
	flags.String("trace-out", "",
		"Trace file name without extension (random if empty)")
	flags.StringSlice("trace-channels", nil,
		"Only trace these channels, for example AW,W")
	flags.Int("monitor-port", -1,
		"Serve monitoring on this port, 0 for a random one")
	flags.Uint64("stall-cycles", 1000,
		"Abort when nothing moves for this many cycles, 0 to disable")
	flags.Uint64("max-cycles", 0, "Stop the clock after this many cycles")
}
