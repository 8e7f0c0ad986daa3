package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sungwon/queueing/internal/auth"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <client-name>",
	Short: "Generate an API key and the config entry holding its hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "api key: %s\n", key)
		fmt.Fprintf(out, "config:\n  api:\n    keys:\n      %s: %q\n", args[0], hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
