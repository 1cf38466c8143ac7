package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sarchlab/axisim/stimulus"
	"github.com/spf13/cobra"
)

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a random access list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		opts := stimulus.DefaultGenerateOptions()

		opts.N, _ = flags.GetInt("n")
		opts.LengthMax, _ = flags.GetInt("length-max")
		fixed, _ := flags.GetBool("fixed-length")
		opts.VariableLength = !fixed
		opts.StampStepMin, _ = flags.GetUint64("stamp-step-min")
		opts.StampStepMax, _ = flags.GetUint64("stamp-step-max")
		opts.AddrSlots, _ = flags.GetInt("addr-slots")

		seed, _ := flags.GetInt64("seed")
		if !flags.Changed("seed") {
			seed = time.Now().UnixNano()
		}

		accesses := stimulus.Generate(rand.New(rand.NewSource(seed)), opts)

		out, _ := flags.GetString("out")
		if out == "" || out == "-" {
			return stimulus.WriteCSV(cmd.OutOrStdout(), accesses)
		}

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create access file: %w", err)
		}

		if err := stimulus.WriteCSV(f, accesses); err != nil {
			f.Close()
			return err
		}

		return f.Close()
	},
}

func init() {
	rootCmd.AddCommand(genCmd)

	defaults := stimulus.DefaultGenerateOptions()

	flags := genCmd.Flags()
	flags.Int("n", defaults.N, "Number of accesses")
	flags.Int("length-max", defaults.LengthMax, "Longest burst in beats")
	flags.Bool("fixed-length", false, "Make every burst length-max beats long")
	flags.Uint64("stamp-step-min", defaults.StampStepMin,
		"Smallest cycle gap between accesses")
	flags.Uint64("stamp-step-max", defaults.StampStepMax,
		"Largest cycle gap between accesses")
	flags.Int("addr-slots", defaults.AddrSlots, "Number of burst start addresses")
	flags.Int64("seed", 0, "Random seed (time based if unset)")
	flags.StringP("out", "o", "", "Output file, stdout if empty")
}
