// Package configs manages the user's whanau configuration and file locations.
//
// The user config lives at $XDG_CONFIG_HOME/whanau/config.toml:
//
//	[user]
//	email = "aroha@example.com"
//	user_id = "5f0c..."
//	device = "laptop"
//
//	[server]
//	directory = "/home/aroha/Sync/whanau"
//
//	[families.<family-id>]
//	name = "Ngata"
//	role = "admin"
//	joined_at = 2026-05-01T09:00:00Z
//
// Only identifiers and display names are kept here. Private keys live in the
// keystore and family keys in the sealed family key store, both under the
// data directory ($XDG_DATA_HOME/whanau). WHANAU_CONFIG_DIR and
// WHANAU_DATA_DIR override the two directories.
package configs
