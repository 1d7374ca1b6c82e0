package cmd

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var fileDryRun bool

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Encrypt and decrypt files with a family key",
	Long: `Files, directories and glob patterns (including **) are accepted.
Encrypted copies are written next to the originals with a .whanau
extension; decrypting writes the original name back.

Examples:
  whanau file encrypt "Te Whare" photos/**/*.jpg
  whanau file decrypt "Te Whare" photos --dry-run`,
}

func init() {
	fileEncryptCmd.Flags().BoolVar(&fileDryRun, "dry-run", false, "show what would be written without writing")
	fileDecryptCmd.Flags().BoolVar(&fileDryRun, "dry-run", false, "show what would be written without writing")

	fileCmd.AddCommand(fileEncryptCmd)
	fileCmd.AddCommand(fileDecryptCmd)
}

func resetFileCommandState() {
	fileDryRun = false
}

var fileEncryptCmd = &cobra.Command{
	Use:   "encrypt <family> <path>...",
	Short: "Encrypt files for a family",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFiles(args, false)
	},
}

var fileDecryptCmd = &cobra.Command{
	Use:   "decrypt <family> <path>...",
	Short: "Decrypt a family's .whanau files",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFiles(args, true)
	},
}

func runFiles(args []string, decrypt bool) error {
	Logger.Infof("Starting file command (decrypt=%t)", decrypt)
	verb := "Encrypting"
	if decrypt {
		verb = "Decrypting"
	}
	spinner, cleanup := startSpinner(verb + " files...")
	defer cleanup()

	return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
		opts := workflows.FilesOptions{Family: args[0], Patterns: args[1:], DryRun: fileDryRun}
		run := rt.EncryptFiles
		if decrypt {
			run = rt.DecryptFiles
		}
		result, err := run(ctx, opts)
		if err != nil {
			return reportError(spinner, err)
		}

		header := ui.Success.Sprint("✓") + fmt.Sprintf(" %d file(s) ", len(result.Files))
		if result.DryRun {
			header = ui.Info.Sprint("ℹ") + fmt.Sprintf(" Dry run: %d file(s) would be ", len(result.Files))
		}
		if decrypt {
			header += "decrypted"
		} else {
			header += "encrypted"
		}
		msg := header + " for " + ui.Highlight.Sprint(result.FamilyName) + "\n"
		for _, f := range result.Files {
			msg += "    " + ui.Path.Sprint(f.Output) + " " + ui.Muted.Sprint(f.Type+", "+humanize.Bytes(uint64(f.Size))) + "\n"
		}
		spinner.FinalMSG = msg
		return nil
	})
}
