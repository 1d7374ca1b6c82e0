package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	keysEmail  string
	keysDevice string
	keysForce  bool
	keysJSON   bool
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage this device's keypair",
}

func init() {
	keysCreateCmd.Flags().StringVarP(&keysEmail, "email", "e", "", "your email address, used by inviters to find you")
	keysCreateCmd.Flags().StringVar(&keysDevice, "device", "", "name for this device (default: hostname)")
	keysCreateCmd.Flags().BoolVarP(&keysForce, "force", "f", false, "replace an existing keypair")
	keysStatusCmd.Flags().BoolVar(&keysJSON, "json", false, "output in JSON format")

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysStatusCmd)
}

func resetKeysCommandState() {
	keysEmail = ""
	keysDevice = ""
	keysForce = false
	keysJSON = false
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a keypair and publish the public key",
	Long: `Creates an X25519 keypair for this device. The private key is sealed
into local storage; the public key is published to the directory so
family admins can send you targeted invites.

Examples:
  whanau keys create --email aroha@example.com
  whanau keys create --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting keys create command")
		spinner, cleanup := startSpinner("Creating keypair...")
		defer cleanup()

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.Register(ctx, workflows.RegisterOptions{
				Email:  keysEmail,
				Device: keysDevice,
				Force:  keysForce,
			})
			if err != nil {
				return reportError(spinner, err)
			}

			msg := ui.Done("Keypair created for ") + ui.Highlight.Sprint(result.Email) +
				" on " + ui.Highlight.Sprint(result.Device) + "\n" +
				"    Fingerprint: " + ui.KeyFingerprint(result.Fingerprint) + "\n"
			if result.Replaced {
				msg += ui.Notice("Your previous keypair was replaced\n")
			}
			if result.Published {
				msg += ui.Hint("Your public key is published. Family admins can now invite you")
			} else {
				msg += ui.Notice("No directory is configured, so your public key was not published\n") +
					ui.Hint("You can still join with a packaged code")
			}
			spinner.FinalMSG = msg
			return nil
		})
	},
}

var keysStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this device's registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting keys status command")
		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			status, err := rt.KeyInfo(ctx)
			if err != nil {
				fmt.Println(formatError(err))
				if isUnexpectedError(err) {
					return err
				}
				return nil
			}

			if keysJSON {
				data, err := json.MarshalIndent(status, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal key status: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if !status.Registered {
				fmt.Println(ui.Notice("This device has no keypair"))
				fmt.Println(ui.Hint("Run ") + ui.Code.Sprint("whanau keys create --email <you@example.com>"))
				return nil
			}
			fmt.Printf("  %-13s %s\n", "Email:", ui.Highlight.Sprint(status.Email))
			fmt.Printf("  %-13s %s\n", "Device:", ui.Highlight.Sprint(status.Device))
			fmt.Printf("  %-13s %s\n", "User ID:", status.UserID)
			fmt.Printf("  %-13s %s\n", "Public key:", status.PublicKey)
			fmt.Printf("  %-13s %s\n", "Fingerprint:", ui.KeyFingerprint(status.Fingerprint))
			return nil
		})
	},
}
