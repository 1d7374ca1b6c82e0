package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PolarWolf314/whanau/internal/directory"
	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	inviteTTL        time.Duration
	inviteEmail      string
	inviteFamilyID   string
	inviteFamilyName string
	invitePending    bool
	inviteJSON       bool
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Invite people to a family and join families",
	Long: `Two invite methods are supported:

  packaged   A CODE:KEY string carrying the family key itself. Share it
             over a channel you trust; anyone holding it can join once.
  targeted   The family key is sealed to the invitee's registered public
             key. Only the bare FAMILY- code needs to be shared.`,
}

func init() {
	inviteCodeCmd.Flags().DurationVar(&inviteTTL, "ttl", workflows.DefaultInviteTTL, "how long the invite stays valid")
	inviteSendCmd.Flags().DurationVar(&inviteTTL, "ttl", workflows.DefaultInviteTTL, "how long the invite stays valid")
	inviteSendCmd.Flags().StringVarP(&inviteEmail, "email", "e", "", "email of the person to invite")
	if err := inviteSendCmd.MarkFlagRequired("email"); err != nil {
		Logger.Fatalf("Failed to mark --email flag as required: %v", err)
	}
	inviteJoinCmd.Flags().StringVar(&inviteFamilyID, "family-id", "", "family id, needed only when no directory is configured")
	inviteJoinCmd.Flags().StringVar(&inviteFamilyName, "family-name", "", "family name to record when joining offline")
	inviteListCmd.Flags().BoolVar(&invitePending, "pending", false, "show only pending invites")
	inviteListCmd.Flags().BoolVar(&inviteJSON, "json", false, "output in JSON format")

	inviteCmd.AddCommand(inviteCodeCmd)
	inviteCmd.AddCommand(inviteSendCmd)
	inviteCmd.AddCommand(inviteAcceptCmd)
	inviteCmd.AddCommand(inviteJoinCmd)
	inviteCmd.AddCommand(inviteListCmd)
	inviteCmd.AddCommand(inviteCancelCmd)
}

func resetInviteCommandState() {
	inviteTTL = workflows.DefaultInviteTTL
	inviteEmail = ""
	inviteFamilyID = ""
	inviteFamilyName = ""
	invitePending = false
	inviteJSON = false
}

var inviteCodeCmd = &cobra.Command{
	Use:   "code <family>",
	Short: "Create a packaged CODE:KEY invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIssueInvite(args[0], workflows.PackagedCode{})
	},
}

var inviteSendCmd = &cobra.Command{
	Use:   "send <family>",
	Short: "Send a targeted invite sealed to someone's public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIssueInvite(args[0], workflows.TargetedEncrypted{InviteeEmail: inviteEmail})
	},
}

func runIssueInvite(family string, method workflows.InviteMethod) error {
	Logger.Infof("Starting invite %s command", method.Name())
	spinner, cleanup := startSpinner("Creating invite...")
	defer cleanup()

	return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
		result, err := rt.IssueInvite(ctx, workflows.IssueInviteOptions{
			Family: family,
			Method: method,
			TTL:    inviteTTL,
		})
		if err != nil {
			return reportError(spinner, err)
		}

		expires := "expires " + formatTime(result.ExpiresAt)
		switch method.(type) {
		case workflows.PackagedCode:
			msg := ui.Done("Invite to ") + ui.Highlight.Sprint(result.FamilyName) + " created " + ui.Muted.Sprint(expires) + "\n\n" +
				"    " + ui.Secret.Sprint(result.PackagedCode) + "\n\n" +
				ui.Notice("This code contains the family key. Share it only over a channel you trust\n") +
				ui.Hint("They join with ") + ui.Code.Sprint("whanau invite join <code>")
			if !result.Published {
				msg += "\n" + ui.Notice("No directory is configured, so the code is not tracked. They also need ") +
					ui.Code.Sprint("--family-id "+result.FamilyID)
			}
			spinner.FinalMSG = msg
		default:
			spinner.FinalMSG = ui.Done("Invite to ") + ui.Highlight.Sprint(result.FamilyName) + " sent to " +
				ui.Highlight.Sprint(result.InviteeEmail) + " " + ui.Muted.Sprint(expires) + "\n" +
				"    Code:        " + ui.Code.Sprint(result.InviteCode) + "\n" +
				"    Sealed to:   " + ui.KeyFingerprint(result.RecipientFingerprint) + "\n" +
				ui.Hint("Check the fingerprint with them, then share the code. They run ") +
				ui.Code.Sprint("whanau invite accept "+result.InviteCode)
		}
		return nil
	})
}

var inviteAcceptCmd = &cobra.Command{
	Use:   "accept <code>",
	Short: "Accept a targeted invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite accept command")
		spinner, cleanup := startSpinner("Accepting invite...")
		defer cleanup()

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.AcceptInvite(ctx, workflows.AcceptInviteOptions{InviteCode: args[0]})
			if err != nil {
				return reportError(spinner, err)
			}
			spinner.FinalMSG = joinedMessage(result)
			return nil
		})
	},
}

var inviteJoinCmd = &cobra.Command{
	Use:   "join <code:key>",
	Short: "Join a family with a packaged invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite join command")
		spinner, cleanup := startSpinner("Joining family...")
		defer cleanup()

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.JoinWithCode(ctx, workflows.JoinWithCodeOptions{
				Packaged:   args[0],
				FamilyID:   inviteFamilyID,
				FamilyName: inviteFamilyName,
			})
			if err != nil {
				return reportError(spinner, err)
			}
			spinner.FinalMSG = joinedMessage(result)
			return nil
		})
	},
}

func joinedMessage(result *workflows.AcceptResult) string {
	return ui.Done("You joined ") + ui.Highlight.Sprint(result.FamilyName) + "\n" +
		ui.Hint("The family key is stored on this device. Try ") +
		ui.Code.Sprint("whanau message decrypt "+quoteArg(result.FamilyName))
}

var inviteListCmd = &cobra.Command{
	Use:   "list <family>",
	Short: "List a family's invites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite list command")
		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			invites, err := rt.ListInvites(ctx, workflows.ListInvitesOptions{Family: args[0], PendingOnly: invitePending})
			if err != nil {
				fmt.Println(formatError(err))
				if isUnexpectedError(err) {
					return err
				}
				return nil
			}

			if inviteJSON {
				data, err := json.MarshalIndent(invites, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal invites: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if len(invites) == 0 {
				fmt.Println("No invites found.")
				return nil
			}
			for _, inv := range invites {
				who := inv.InviteeEmail
				if who == "" {
					who = "(packaged code)"
				}
				fmt.Printf("%-24s %-10s %-28s expires %s\n", inv.InviteCode, statusLabel(inv.Status), who, formatTime(inv.ExpiresAt))
			}
			return nil
		})
	},
}

func statusLabel(s directory.Status) string {
	switch s {
	case directory.StatusPending:
		return ui.Warning.Sprint(string(s))
	case directory.StatusAccepted:
		return ui.Success.Sprint(string(s))
	default:
		return ui.Muted.Sprint(string(s))
	}
}

var inviteCancelCmd = &cobra.Command{
	Use:   "cancel <code>",
	Short: "Withdraw a pending invite you issued",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite cancel command")
		spinner, cleanup := startSpinner("Cancelling invite...")
		defer cleanup()

		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			if err := rt.CancelInvite(ctx, args[0]); err != nil {
				return reportError(spinner, err)
			}
			spinner.FinalMSG = ui.Done("Invite ") + ui.Code.Sprint(args[0]) + " cancelled"
			return nil
		})
	},
}
