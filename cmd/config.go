package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PolarWolf314/whanau/internal/configs"
	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/spf13/cobra"
)

var (
	configShowJSON    bool
	configServerURL   string
	configServerDir   string
	configServerUnset bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage whanau configuration",
	Long: `Shows and edits the user configuration at ~/.config/whanau/config.toml.

Examples:
  # Show the configuration
  whanau config show

  # Use a directory server
  whanau config set-server --url https://whanau.example.com

  # Use a shared folder, e.g. one synced between the family's devices
  whanau config set-server --directory ~/Sync/whanau`,
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "output in JSON format")
	configSetServerCmd.Flags().StringVar(&configServerURL, "url", "", "directory server URL")
	configSetServerCmd.Flags().StringVar(&configServerDir, "directory", "", "shared directory folder")
	configSetServerCmd.Flags().BoolVar(&configServerUnset, "unset", false, "forget the configured directory")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetServerCmd)
}

func resetConfigCommandState() {
	configShowJSON = false
	configServerURL = ""
	configServerDir = ""
	configServerUnset = false
}

func userConfigPath() string {
	return configs.UserWhanauSettings.ConfigPath()
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config show command")
		path := userConfigPath()
		Logger.Debugf("Loading user config from %s", path)

		config, err := configs.LoadUserConfigFrom(path)
		if err != nil {
			return Logger.ErrorfAndReturn("Failed to load user config: %v", err)
		}

		if configShowJSON {
			output, err := json.MarshalIndent(config, "", "  ")
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to marshal config to JSON: %v", err)
			}
			fmt.Println(string(output))
			return nil
		}

		if config.User.Email == "" && config.User.UserID == "" && len(config.Families) == 0 {
			fmt.Println(ui.Notice("No user configuration found."))
			fmt.Println()
			fmt.Println(ui.Hint("Run ") + ui.Code.Sprint("whanau keys create --email <you@example.com>") + " to set up your identity")
			return nil
		}

		fmt.Println(ui.Info.Sprint("User Configuration") + " " + ui.Muted.Sprint(path))
		fmt.Println()
		fmt.Printf("  %-11s %s\n", "Email:", ui.Success.Sprint(config.User.Email))
		fmt.Printf("  %-11s %s\n", "User ID:", ui.Warning.Sprint(config.User.UserID))
		if config.User.Device != "" {
			fmt.Printf("  %-11s %s\n", "Device:", ui.Success.Sprint(config.User.Device))
		}
		switch {
		case config.Server.URL != "":
			fmt.Printf("  %-11s %s\n", "Server:", ui.Path.Sprint(config.Server.URL))
		case config.Server.Directory != "":
			fmt.Printf("  %-11s %s\n", "Directory:", ui.Path.Sprint(config.Server.Directory))
		}

		if len(config.Families) > 0 {
			fmt.Println()
			fmt.Println(ui.Info.Sprint("Families:"))
			for _, id := range config.SortedFamilyIDs() {
				m := config.Families[id]
				shortID := id
				if len(id) > 8 {
					shortID = id[:8] + "..."
				}
				fmt.Printf("  %s → %s (%s)\n", ui.Warning.Sprint(shortID), ui.Success.Sprint(m.Name), m.Role)
			}
		}
		return nil
	},
}

var configSetServerCmd = &cobra.Command{
	Use:   "set-server",
	Short: "Choose where public keys and invites are exchanged",
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config set-server command")

		set := 0
		for _, v := range []bool{configServerURL != "", configServerDir != "", configServerUnset} {
			if v {
				set++
			}
		}
		if set != 1 {
			fmt.Println(ui.Fail("Give exactly one of ") + ui.Flag.Sprint("--url") + ", " +
				ui.Flag.Sprint("--directory") + " or " + ui.Flag.Sprint("--unset"))
			return nil
		}

		path := userConfigPath()
		config, err := configs.EnsureUserConfig(path)
		if err != nil {
			return Logger.ErrorfAndReturn("Failed to load user config: %v", err)
		}

		var msg string
		switch {
		case configServerURL != "":
			url := strings.TrimRight(strings.TrimSpace(configServerURL), "/")
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				fmt.Println(ui.Fail("The server URL must start with http:// or https://"))
				return nil
			}
			config.Server = configs.Server{URL: url}
			msg = "Using directory server " + ui.Path.Sprint(url)
		case configServerDir != "":
			dir, err := filepath.Abs(configServerDir)
			if err != nil {
				return Logger.ErrorfAndReturn("Failed to resolve %s: %v", configServerDir, err)
			}
			config.Server = configs.Server{Directory: dir}
			msg = "Using shared directory " + ui.Path.Sprint(dir)
		default:
			config.Server = configs.Server{}
			msg = "Directory setting removed"
		}

		if err := configs.SaveUserConfigTo(path, config); err != nil {
			return Logger.ErrorfAndReturn("Failed to save user config: %v", err)
		}
		fmt.Println(ui.Done(msg))
		return nil
	},
}
