package utils

import (
	"os"
	"os/user"
	"regexp"
	"strings"
)

var (
	deviceNameInvalid = regexp.MustCompile(`[^a-z0-9\-_]`)
	repeatedHyphens   = regexp.MustCompile(`-+`)
)

// GetUsername returns the login name of the current OS user.
func GetUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// SanitizeDeviceName lowercases a name and strips everything except letters, digits, hyphens and underscores.
func SanitizeDeviceName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = deviceNameInvalid.ReplaceAllString(name, "")
	name = repeatedHyphens.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if name == "" {
		name = "device"
	}
	return name
}

// DeviceName labels this device when its public key is published.
// It prefers the hostname, then the username.
func DeviceName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return SanitizeDeviceName(hostname)
	}
	if username, err := GetUsername(); err == nil {
		return SanitizeDeviceName(username)
	}
	return "device"
}
