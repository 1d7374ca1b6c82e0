package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/spf13/cobra"
)

var (
	logLimit     int
	logReverse   bool
	logOperation string
	logFamily    string
	logSince     string
	logOneline   bool
	logJSON      bool
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 0, "limit number of entries shown")
	logCmd.Flags().BoolVar(&logReverse, "reverse", false, "show most recent entries first")
	logCmd.Flags().StringVar(&logOperation, "operation", "", "filter by operation")
	logCmd.Flags().StringVar(&logFamily, "family", "", "filter by family name or id")
	logCmd.Flags().StringVar(&logSince, "since", "", "show entries on or after date (YYYY-MM-DD)")
	logCmd.Flags().BoolVar(&logOneline, "oneline", false, "compact one-line format")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "output as JSON array")
}

// resetLogCommandState resets the log command's global state for testing.
func resetLogCommandState() {
	logLimit = 0
	logReverse = false
	logOperation = ""
	logFamily = ""
	logSince = ""
	logOneline = false
	logJSON = false
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View this device's audit log",
	Long: `Displays what this device has done: registrations, invites, joins and
encryption. Key material is never logged.

Examples:
  whanau log -n 10
  whanau log --operation invite-issue
  whanau log --family "Te Whare" --since 2026-01-01
  whanau log --json`,
	RunE: runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting log command")

	opts := workflows.AuditLogOptions{
		Operation: logOperation,
		Family:    logFamily,
		Limit:     logLimit,
		Reverse:   logReverse,
	}
	if logSince != "" {
		since, err := time.ParseInLocation("2006-01-02", logSince, time.Local)
		if err != nil {
			fmt.Println(ui.Fail("Invalid date ") + ui.Code.Sprint(logSince) + ", use YYYY-MM-DD")
			return nil
		}
		opts.Since = since
	}

	return withRuntime(func(ctx context.Context, rt *workflows.Runtime) error {
		entries, err := rt.AuditLog(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		Logger.Debugf("Showing %d entries", len(entries))

		if len(entries) == 0 {
			fmt.Println("No audit log entries found.")
			return nil
		}

		switch {
		case logJSON:
			return outputLogJSON(entries)
		case logOneline:
			outputLogOneline(entries)
		default:
			outputLogDefault(entries)
		}
		return nil
	})
}

func outputLogJSON(entries []audit.Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entries to JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputLogOneline(entries []audit.Entry) {
	for _, e := range entries {
		fmt.Printf("%s %s %s\n", logDate(e.Timestamp), e.Operation, logDetails(e))
	}
}

func outputLogDefault(entries []audit.Entry) {
	for _, e := range entries {
		fmt.Printf("%-19s  %-25s  %-14s  %s\n", logDateTime(e.Timestamp), e.User, e.Operation, logDetails(e))
	}
}

func logDate(ts string) string {
	t, err := time.Parse(audit.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02")
}

func logDateTime(ts string) string {
	t, err := time.Parse(audit.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func logDetails(e audit.Entry) string {
	var parts []string
	if e.FamilyName != "" {
		parts = append(parts, e.FamilyName)
	}
	if e.Method != "" {
		parts = append(parts, e.Method)
	}
	if e.Invitee != "" {
		parts = append(parts, "to "+e.Invitee)
	}
	if e.InviteCode != "" {
		parts = append(parts, e.InviteCode)
	}
	if e.Device != "" && e.Operation == audit.OpRegister {
		parts = append(parts, "device "+e.Device)
	}
	switch {
	case len(e.Files) > 0:
		parts = append(parts, fmt.Sprintf("%d file(s)", len(e.Files)))
	case e.Count > 0:
		parts = append(parts, fmt.Sprintf("%d item(s)", e.Count))
	}
	return strings.Join(parts, " ")
}
