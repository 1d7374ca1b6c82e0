package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/spf13/cobra"
)

var statusJSONOutput bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "output in JSON format")
}

func resetStatusCommandState() {
	statusJSONOutput = false
}

// statusJSON is the machine-readable form of workflows.StatusResult.
type statusJSON struct {
	Registered          bool                `json:"registered"`
	Email               string              `json:"email,omitempty"`
	Device              string              `json:"device,omitempty"`
	Fingerprint         string              `json:"fingerprint,omitempty"`
	Authenticated       bool                `json:"authenticated"`
	DirectoryConfigured bool                `json:"directory_configured"`
	DirectoryError      string              `json:"directory_error,omitempty"`
	Wiped               bool                `json:"wiped"`
	Families            []familyJSONEntry   `json:"families"`
	PendingInvites      map[string][]string `json:"pending_invites"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this device's registration, session and families",
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting status command")
		return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
			result, err := rt.Status(ctx)
			if err != nil {
				return err
			}
			if statusJSONOutput {
				return outputStatusJSON(result)
			}
			printStatus(result)
			return nil
		})
	},
}

func outputStatusJSON(result *workflows.StatusResult) error {
	out := statusJSON{
		Registered:          result.Keys.Registered,
		Email:               result.Keys.Email,
		Device:              result.Keys.Device,
		Fingerprint:         result.Keys.Fingerprint,
		Authenticated:       result.Authenticated,
		DirectoryConfigured: result.DirectoryConfigured,
		Wiped:               result.Wiped,
		Families:            make([]familyJSONEntry, 0, len(result.Families)),
		PendingInvites:      make(map[string][]string),
	}
	if result.DirectoryError != nil {
		out.DirectoryError = result.DirectoryError.Error()
	}
	for _, f := range result.Families {
		out.Families = append(out.Families, familyJSONEntry{
			FamilyID:      f.FamilyID,
			Name:          f.Name,
			Role:          f.Role,
			JoinedAt:      f.JoinedAt.UTC().Format("2006-01-02T15:04:05Z"),
			InvitesIssued: f.InvitesIssued,
			State:         string(f.State),
			HasKey:        f.HasKey,
		})
	}
	for id, invites := range result.PendingInvites {
		for _, inv := range invites {
			out.PendingInvites[id] = append(out.PendingInvites[id], inv.InviteCode)
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printStatus(result *workflows.StatusResult) {
	if result.Wiped {
		fmt.Println(ui.Notice("This device's storage key changed and stored keys were cleared"))
		fmt.Println()
	}

	fmt.Println(ui.Info.Sprint("Device"))
	if result.Keys.Registered {
		fmt.Printf("  %-13s %s on %s\n", "Registered:", ui.Highlight.Sprint(result.Keys.Email), ui.Highlight.Sprint(result.Keys.Device))
		fmt.Printf("  %-13s %s\n", "Fingerprint:", ui.KeyFingerprint(result.Keys.Fingerprint))
	} else {
		fmt.Printf("  %-13s %s\n", "Registered:", ui.Error.Sprint("no"))
	}
	session := ui.Error.Sprint("no")
	if result.Authenticated {
		session = ui.Success.Sprint("yes")
	}
	fmt.Printf("  %-13s %s\n", "Logged in:", session)

	dir := ui.Warning.Sprint("not configured")
	switch {
	case result.DirectoryError != nil:
		dir = ui.Error.Sprint("unreachable: " + result.DirectoryError.Error())
	case result.DirectoryConfigured:
		dir = ui.Success.Sprint("ok")
	}
	fmt.Printf("  %-13s %s\n", "Directory:", dir)

	fmt.Println()
	fmt.Println(ui.Info.Sprint("Families"))
	if len(result.Families) == 0 {
		fmt.Println("  none")
		return
	}
	for _, f := range result.Families {
		key := ""
		if !f.HasKey {
			key = " " + ui.Error.Sprint("(key missing)")
		}
		fmt.Printf("  %s %s %s%s\n", ui.Highlight.Sprint(f.Name), f.Role, ui.Muted.Sprint(string(f.State)), key)

		pending := result.PendingInvites[f.FamilyID]
		sort.Slice(pending, func(i, j int) bool { return pending[i].ExpiresAt.Before(pending[j].ExpiresAt) })
		for _, inv := range pending {
			who := inv.InviteeEmail
			if who == "" {
				who = "packaged code"
			}
			fmt.Printf("    pending %s %s, expires %s\n", inv.InviteCode, who, formatTime(inv.ExpiresAt))
		}
	}
}
