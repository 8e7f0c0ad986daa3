package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/sungwon/queueing/internal/queueing"
)

var sendCmd = &cobra.Command{
	Use:   "send [body]",
	Short: "Send a message; the body is read from stdin when no argument is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body []byte
		if len(args) == 1 {
			body = []byte(args[0])
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			body = b
		}

		p, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		id, err := p.CreateClient().SendMessage(cmd.Context(), body)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

type receivedMessage struct {
	MessageID    string          `json:"message_id"`
	Handle       queueing.Handle `json:"handle"`
	Body         string          `json:"body,omitempty"`
	BodyBase64   string          `json:"body_base64"`
	DequeueCount int64           `json:"dequeue_count"`
	Deadline     time.Time       `json:"deadline"`
	EnqueuedAt   time.Time       `json:"enqueued_at,omitzero"`
	ExpiresAt    time.Time       `json:"expires_at,omitzero"`
	Settled      string          `json:"settled,omitempty"`
}

var (
	receiveCommit  bool
	receiveAbandon bool
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Claim one visible message and print it as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if receiveCommit && receiveAbandon {
			return errors.New("--commit and --abandon are mutually exclusive")
		}

		p, err := openProvider(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		env, err := p.CreateClient().TryReceiveMessage(cmd.Context())
		if err != nil {
			return err
		}
		if env == nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "no message available")
			return nil
		}

		out := receivedMessage{
			MessageID:    env.MessageID(),
			Handle:       env.Handle(),
			BodyBase64:   base64.StdEncoding.EncodeToString(env.Body()),
			DequeueCount: env.DequeueCount(),
			Deadline:     env.Deadline(),
			EnqueuedAt:   env.EnqueuedAt(),
			ExpiresAt:    env.ExpiresAt(),
		}
		if utf8.Valid(env.Body()) {
			out.Body = env.String()
		}

		var applied bool
		switch {
		case receiveCommit:
			applied, err = env.TryCommit(cmd.Context())
			out.Settled = settledLabel("committed", applied)
		case receiveAbandon:
			applied, err = env.TryAbandon(cmd.Context())
			out.Settled = settledLabel("abandoned", applied)
		}
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

func settledLabel(op string, applied bool) string {
	if applied {
		return op
	}
	return "stale"
}

var settleDeadline time.Duration

func settleCommand(use, short string, settle func(*queueing.Envelope, *cobra.Command) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <message-id> <receipt>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProvider(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			h := queueing.Handle{MessageID: args[0], Receipt: args[1]}
			env := p.CreateClient().Resume(h, time.Now().Add(settleDeadline))
			applied, err := settle(env, cmd)
			if err != nil {
				return err
			}
			return printJSON(map[string]bool{"applied": applied})
		},
	}
}

var commitCmd = settleCommand("commit", "Delete a received message by its handle",
	func(env *queueing.Envelope, cmd *cobra.Command) (bool, error) {
		return env.TryCommit(cmd.Context())
	})

var abandonCmd = settleCommand("abandon", "Make a received message visible again by its handle",
	func(env *queueing.Envelope, cmd *cobra.Command) (bool, error) {
		return env.TryAbandon(cmd.Context())
	})

func init() {
	receiveCmd.Flags().BoolVar(&receiveCommit, "commit", false, "commit the message after printing it")
	receiveCmd.Flags().BoolVar(&receiveAbandon, "abandon", false, "abandon the message after printing it")
	for _, c := range []*cobra.Command{commitCmd, abandonCmd} {
		c.Flags().DurationVar(&settleDeadline, "within", 30*time.Second,
			"treat the handle as live for this long from now")
	}
	rootCmd.AddCommand(sendCmd, receiveCmd, commitCmd, abandonCmd)
}
