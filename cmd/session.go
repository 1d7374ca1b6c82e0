package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/spf13/cobra"
)

var loginToken string

func init() {
	loginCmd.Flags().StringVarP(&loginToken, "token", "t", "", "access token issued by the directory server (default: $WHANAU_TOKEN)")
}

func resetSessionCommandState() {
	loginToken = ""
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save an access token for this device",
	Long: `Saves the access token for this device. Accepting invites and
decrypting messages or files require a saved token.

Examples:
  whanau login --token abc123
  WHANAU_TOKEN=abc123 whanau login`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting login command")
		spinner, cleanup := startSpinner("Saving session...")
		defer cleanup()

		token := loginToken
		if token == "" {
			token = os.Getenv("WHANAU_TOKEN")
		}

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.Login(ctx, workflows.LoginOptions{Token: strings.TrimSpace(token)})
			if err != nil {
				return reportError(spinner, err)
			}
			who := "this device"
			if result.Email != "" {
				who = ui.Highlight.Sprint(result.Email)
			}
			spinner.FinalMSG = ui.Done("Logged in as ") + who
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the access token and every family key on this device",
	Long: `Removes the saved access token and all family keys from this device.
Your family memberships are kept; import an exported key or ask to be
invited again to regain access.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting logout command")
		spinner, cleanup := startSpinner("Logging out...")
		defer cleanup()

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.Logout(ctx)
			if err != nil {
				return reportError(spinner, err)
			}
			spinner.FinalMSG = ui.Done("Logged out\n") +
				ui.Info.Sprint("→") + fmt.Sprintf(" Removed %d family key(s) from this device", result.FamilyKeysCleared)
			return nil
		})
	},
}
