package cmd

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/spf13/cobra"
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Encrypt and decrypt messages with a family key",
	Long: `Messages are given as arguments or read from stdin, one per line.
Each result is printed on its own line in the same order.

Examples:
  whanau message encrypt "Te Whare" "dinner at 6"
  cat inbox.txt | whanau message decrypt "Te Whare"`,
}

func init() {
	messageCmd.AddCommand(messageEncryptCmd)
	messageCmd.AddCommand(messageDecryptCmd)
}

func resetMessageCommandState() {}

var messageEncryptCmd = &cobra.Command{
	Use:   "encrypt <family> [message...]",
	Short: "Encrypt messages for a family",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMessages(args, false)
	},
}

var messageDecryptCmd = &cobra.Command{
	Use:   "decrypt <family> [ciphertext...]",
	Short: "Decrypt a family's messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMessages(args, true)
	},
}

func runMessages(args []string, decrypt bool) error {
	Logger.Infof("Starting message command (decrypt=%t)", decrypt)
	messages, err := readLines(args[1:])
	if err != nil {
		fmt.Println(ui.Fail(err.Error()))
		return nil
	}
	Logger.Debugf("Read %d messages", len(messages))

	return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
		opts := workflows.MessagesOptions{Family: args[0], Messages: messages}
		run := rt.EncryptMessages
		if decrypt {
			run = rt.DecryptMessages
		}
		result, err := run(ctx, opts)
		if err != nil {
			fmt.Println(formatError(err))
			if isUnexpectedError(err) {
				return err
			}
			return nil
		}
		for _, m := range result.Messages {
			fmt.Println(m)
		}
		return nil
	})
}
