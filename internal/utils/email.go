package utils

import (
	"regexp"
	"strings"
)

// emailPattern accepts local-part@domain.tld. Public keys are looked up by
// email, so this only has to reject obvious typos.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func IsValidEmail(email string) bool {
	return email != "" && emailPattern.MatchString(email)
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
