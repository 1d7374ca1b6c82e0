package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/utils"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	familyJSON         bool
	familyImportKey    string
	familyImportBackup string
	familyExportWords  bool
	familyExportBackup string
	familyExportForce  bool
	familyClearAll     bool
)

// backupPassphraseEnv lets scripts supply the backup passphrase without a prompt.
const backupPassphraseEnv = "WHANAU_BACKUP_PASSPHRASE"

var familyCmd = &cobra.Command{
	Use:   "family",
	Short: "Create and manage families on this device",
}

func init() {
	familyListCmd.Flags().BoolVar(&familyJSON, "json", false, "output in JSON format")
	familyExportCmd.Flags().BoolVar(&familyExportWords, "words", false, "show the key as a 24 word recovery phrase")
	familyExportCmd.Flags().StringVar(&familyExportBackup, "backup", "", "write a passphrase protected backup file instead of showing the key")
	familyExportCmd.Flags().BoolVarP(&familyExportForce, "force", "f", false, "overwrite an existing backup file")
	familyImportCmd.Flags().StringVarP(&familyImportKey, "key", "k", "", "exported family key or recovery phrase (default: read from stdin)")
	familyImportCmd.Flags().StringVar(&familyImportBackup, "backup", "", "restore from a backup file written by export --backup")
	familyClearCmd.Flags().BoolVar(&familyClearAll, "all", false, "clear every family")

	familyCmd.AddCommand(familyCreateCmd)
	familyCmd.AddCommand(familyListCmd)
	familyCmd.AddCommand(familyExportCmd)
	familyCmd.AddCommand(familyImportCmd)
	familyCmd.AddCommand(familyClearCmd)
}

func resetFamilyCommandState() {
	familyJSON = false
	familyImportKey = ""
	familyImportBackup = ""
	familyExportWords = false
	familyExportBackup = ""
	familyExportForce = false
	familyClearAll = false
}

var familyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a family and its key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting family create command")
		spinner, cleanup := startSpinner("Creating family...")
		defer cleanup()

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.CreateFamily(ctx, workflows.CreateFamilyOptions{Name: args[0]})
			if err != nil {
				return reportError(spinner, err)
			}
			spinner.FinalMSG = ui.Done("Created family ") + ui.Highlight.Sprint(result.Name) + " " + ui.Muted.Sprint(result.FamilyID) + "\n" +
				ui.Hint("Invite someone with ") + ui.Code.Sprint("whanau invite send "+quoteArg(result.Name)+" --email <email>") +
				" or " + ui.Code.Sprint("whanau invite code "+quoteArg(result.Name))
			return nil
		})
	},
}

type familyJSONEntry struct {
	FamilyID      string `json:"family_id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	JoinedAt      string `json:"joined_at"`
	InvitesIssued int    `json:"invites_issued"`
	State         string `json:"state"`
	HasKey        bool   `json:"has_key"`
}

var familyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the families you belong to",
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting family list command")
		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			families, err := rt.ListFamilies(ctx)
			if err != nil {
				return err
			}

			if familyJSON {
				entries := make([]familyJSONEntry, 0, len(families))
				for _, f := range families {
					entries = append(entries, familyJSONEntry{
						FamilyID:      f.FamilyID,
						Name:          f.Name,
						Role:          f.Role,
						JoinedAt:      f.JoinedAt.UTC().Format("2006-01-02T15:04:05Z"),
						InvitesIssued: f.InvitesIssued,
						State:         string(f.State),
						HasKey:        f.HasKey,
					})
				}
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal families: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if len(families) == 0 {
				fmt.Println("You do not belong to any families yet.")
				fmt.Println(ui.Hint("Run ") + ui.Code.Sprint("whanau family create <name>") + " or accept an invite")
				return nil
			}
			for _, f := range families {
				key := ui.Success.Sprint("key")
				if !f.HasKey {
					key = ui.Error.Sprint("no key")
				}
				fmt.Printf("%-24s %-7s %-16s %s  %s\n", ui.Highlight.Sprint(f.Name), f.Role, f.State, key, ui.Muted.Sprint(f.FamilyID))
			}
			return nil
		})
	},
}

var familyExportCmd = &cobra.Command{
	Use:   "export <family>",
	Short: "Show a family key so it can be moved to another device",
	Long: `Shows the family key directly on the terminal, bypassing stdout so it
does not end up in shell history or pipes. The screen is cleared once you
press Enter. Use --words for a recovery phrase that is easier to copy by hand.

With --backup the key is written to a file locked with a passphrase instead.
The passphrase is asked for on the terminal, or read from
WHANAU_BACKUP_PASSPHRASE.

Anyone with this key can read the family's messages and files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting family export command")
		if familyExportBackup != "" {
			return runFamilyBackup(args[0])
		}
		if !utils.IsTTYAvailable() {
			fmt.Println(ui.Fail("This command requires an interactive terminal"))
			fmt.Println(ui.Hint("Use ") + ui.Flag.Sprint("--backup <file>") + " to write a backup file instead")
			return nil
		}

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.ExportFamilyKey(ctx, workflows.ExportFamilyKeyOptions{Family: args[0], Words: familyExportWords})
			if err != nil {
				fmt.Println(formatError(err))
				if isUnexpectedError(err) {
					return err
				}
				return nil
			}
			if err := displayFamilyKeySecurely(result); err != nil {
				fmt.Println(ui.Fail("Failed to display family key: ") + err.Error())
				return err
			}
			fmt.Println(ui.Done("Family key for ") + ui.Highlight.Sprint(result.Name) + " shown")
			fmt.Println(ui.Hint("On the other device run ") + ui.Code.Sprint("whanau family import "+quoteArg(result.Name)))
			return nil
		})
	},
}

func runFamilyBackup(family string) error {
	passphrase, err := backupPassphrase(true)
	if err != nil {
		fmt.Println(formatError(err))
		if isUnexpectedError(err) {
			return err
		}
		return nil
	}

	spinner, cleanup := startSpinner("Writing family key backup...")
	defer cleanup()

	path, err := filepath.Abs(familyExportBackup)
	if err != nil {
		return reportError(spinner, err)
	}
	return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
		result, err := rt.BackupFamilyKey(ctx, workflows.BackupFamilyKeyOptions{
			Family:     family,
			Path:       path,
			Passphrase: passphrase,
			Force:      familyExportForce,
		})
		if err != nil {
			return reportError(spinner, err)
		}
		spinner.FinalMSG = ui.Done("Backed up the family key for ") + ui.Highlight.Sprint(result.Name) + " to " + ui.Path.Sprint(result.Path) + "\n" +
			ui.Notice("Keep the passphrase safe. The backup cannot be opened without it")
		return nil
	})
}

// backupPassphrase reads the backup passphrase from the environment or the
// terminal. A new backup asks twice.
func backupPassphrase(confirm bool) (string, error) {
	if pass := os.Getenv(backupPassphraseEnv); pass != "" {
		return pass, nil
	}
	if !utils.IsTerminal() {
		return "", fmt.Errorf("set %s or run in a terminal: %w", backupPassphraseEnv, kerrors.ErrPassphraseRequired)
	}
	pass, err := utils.ReadPassphrase("Backup passphrase: ")
	if err != nil {
		return "", err
	}
	if len(pass) == 0 {
		return "", kerrors.ErrPassphraseRequired
	}
	if confirm {
		again, err := utils.ReadPassphrase("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if string(again) != string(pass) {
			return "", fmt.Errorf("passphrases do not match: %w", kerrors.ErrPassphraseRequired)
		}
	}
	return string(pass), nil
}

func displayFamilyKeySecurely(result *workflows.ExportFamilyKeyResult) error {
	pre := "\n" +
		ui.Warning.Sprint("IMPORTANT:") + " Anyone with this key can read " + result.Name + "'s messages and files.\n\n" +
		strings.Repeat("=", 60) + "\n\n"
	if err := utils.WriteToTTY(pre); err != nil {
		return fmt.Errorf("writing instructions: %w", err)
	}
	secret := result.Key
	if result.Words != "" {
		secret = result.Words
	}
	if err := utils.WriteToTTY(ui.Secret.Sprint(secret) + "\n"); err != nil {
		return fmt.Errorf("writing family key: %w", err)
	}
	post := "\n" + strings.Repeat("=", 60) + "\n\n" +
		"Press " + ui.Highlight.Sprint("Enter") + " when you have copied the key..."
	if err := utils.WriteToTTY(post); err != nil {
		return fmt.Errorf("writing prompt: %w", err)
	}
	if err := utils.WaitForEnterFromTTY(); err != nil {
		return fmt.Errorf("waiting for input: %w", err)
	}
	if err := utils.ClearScreen(); err != nil {
		Logger.Debugf("Failed to clear screen: %v", err)
	}
	return nil
}

var familyImportCmd = &cobra.Command{
	Use:   "import [family]",
	Short: "Restore an exported family key on this device",
	Long: `Restores a family key exported from another device, either as the key
itself or as its recovery phrase. You must already be a member of the family
on this device.

A backup file names its own family, so --backup takes no family argument.

Examples:
  whanau family import "Te Whare" --key <key>
  pbpaste | whanau family import "Te Whare"
  whanau family import --backup te-whare.whanau-key`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting family import command")
		if familyImportBackup != "" {
			return runFamilyRestore()
		}
		if len(args) == 0 {
			fmt.Println(formatError(kerrors.ErrInvalidFamilyID))
			return nil
		}

		key := familyImportKey
		if key == "" {
			data, err := utils.ReadStdin()
			if err != nil {
				fmt.Println(ui.Fail(err.Error()))
				return nil
			}
			key = string(data)
		}

		spinner, cleanup := startSpinner("Importing family key...")
		defer cleanup()

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			info, err := rt.ImportFamilyKey(ctx, workflows.ImportFamilyKeyOptions{Family: args[0], Key: key})
			if err != nil {
				return reportError(spinner, err)
			}
			spinner.FinalMSG = ui.Done("Family key for ") + ui.Highlight.Sprint(info.Name) + " imported"
			return nil
		})
	},
}

func runFamilyRestore() error {
	passphrase, err := backupPassphrase(false)
	if err != nil {
		fmt.Println(formatError(err))
		if isUnexpectedError(err) {
			return err
		}
		return nil
	}

	spinner, cleanup := startSpinner("Restoring family key...")
	defer cleanup()

	return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
		info, err := rt.RestoreFamilyKey(ctx, workflows.RestoreFamilyKeyOptions{Path: familyImportBackup, Passphrase: passphrase})
		if err != nil {
			return reportError(spinner, err)
		}
		spinner.FinalMSG = ui.Done("Family key for ") + ui.Highlight.Sprint(info.Name) + " restored from " + ui.Path.Sprint(familyImportBackup)
		return nil
	})
}

var familyClearCmd = &cobra.Command{
	Use:   "clear [family]",
	Short: "Remove a family, or every family, from this device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting family clear command")
		spinner, cleanup := startSpinner("Clearing family keys...")
		defer cleanup()

		opts := workflows.ClearFamilyOptions{All: familyClearAll}
		if len(args) == 1 {
			opts.Family = args[0]
		}
		if !opts.All && opts.Family == "" {
			return reportError(spinner, fmt.Errorf("name a family or use --all: %w", kerrors.ErrInvalidFamilyID))
		}

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.ClearFamily(ctx, opts)
			if err != nil {
				return reportError(spinner, err)
			}
			if len(result.Cleared) == 0 {
				spinner.FinalMSG = ui.Note("No families to clear")
				return nil
			}
			spinner.FinalMSG = ui.Done("Cleared ") + strings.Join(result.Cleared, ", ")
			return nil
		})
	},
}

// quoteArg quotes s for a suggested shell command when it contains spaces.
func quoteArg(s string) string {
	if strings.ContainsAny(s, " \t'\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
