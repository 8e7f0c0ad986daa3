package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the queue if the backend needs it",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.EnsureQueue(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queue %q ready\n", p.Config().QueueName)
		return nil
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every message in the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to clear without --yes")
		}
		p, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queue %q cleared\n", p.Config().QueueName)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge-expired",
	Short: "Remove messages whose time-to-live has elapsed",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		n, err := p.PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d expired messages removed\n", n)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deletion of all messages")
	rootCmd.AddCommand(ensureCmd, clearCmd, purgeCmd)
}
