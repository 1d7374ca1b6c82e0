package cmd

import (
	"fmt"

	logger "github.com/PolarWolf314/whanau/internal/logging"
	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	verbose bool
	debug   bool
	Logger  logger.Logger

	// RootCmd is the whanau command line.
	RootCmd = &cobra.Command{
		Use:   "whanau",
		Short: "Whānau - end-to-end encrypted family keys and invites",
		Long: `Whānau keeps a family's shared key on each member's devices and never on a server.

Members register a keypair, an admin creates a family and invites others
either with a targeted invite sealed to their public key or with a
packaged CODE:KEY shared out of band. Messages and files are encrypted
under the family key.

Examples:
  whanau keys create --email aroha@example.com
  whanau family create "Te Whare"
  whanau invite send "Te Whare" --email mere@example.com
  whanau invite accept FAMILY-ABCD2345EFGH6789`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing %s with verbose=%t, debug=%t", cmd.CommandPath(), verbose, debug)
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println()
			figure.NewColorFigure("Whanau", "standard", "green", true).Print()
			fmt.Println()
			fmt.Println("Run " + ui.Code.Sprint("whanau --help") + " to see available commands.")
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")

	RootCmd.AddCommand(keysCmd)
	RootCmd.AddCommand(loginCmd)
	RootCmd.AddCommand(logoutCmd)
	RootCmd.AddCommand(familyCmd)
	RootCmd.AddCommand(inviteCmd)
	RootCmd.AddCommand(messageCmd)
	RootCmd.AddCommand(fileCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(logCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

// GetRootCmd returns the RootCmd for testing.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	resetKeysCommandState()
	resetSessionCommandState()
	resetFamilyCommandState()
	resetInviteCommandState()
	resetMessageCommandState()
	resetFileCommandState()
	resetStatusCommandState()
	resetLogCommandState()
	resetServeCommandState()
	resetConfigCommandState()
	resetCobraFlagState(RootCmd)
}

// resetCobraFlagState clears Changed on every flag so one test's flags do not leak into the next.
func resetCobraFlagState(c *cobra.Command) {
	c.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Changed = false
	})
	for _, sub := range c.Commands() {
		resetCobraFlagState(sub)
	}
}
