package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config <file>",
	Short: "Write the effective configuration to a JSON or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		return cfg.SaveConfig(args[0])
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
