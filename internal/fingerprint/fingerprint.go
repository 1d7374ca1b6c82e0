// Package fingerprint derives the device key that protects locally stored
// private keys.
//
// The key is the SHA-256 digest of an ordered list of environment
// attributes. The order is fixed: changing it, or running in an environment
// whose attributes differ, yields a different key and makes every value
// sealed under the old key unrecoverable.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// KeySize is the length of the derived device key.
const KeySize = sha256.Size

// seedSeparator joins attributes. It cannot appear in any attribute.
const seedSeparator = "|"

// Environment supplies the ordered device attributes.
type Environment interface {
	Attributes() []string
}

// Seed joins the environment's attributes in order.
func Seed(env Environment) string {
	attrs := env.Attributes()
	cleaned := make([]string, len(attrs))
	for i, a := range attrs {
		cleaned[i] = strings.ReplaceAll(a, seedSeparator, "_")
	}
	return strings.Join(cleaned, seedSeparator)
}

// DeriveKey hashes the seed into the device key.
func DeriveKey(env Environment) [KeySize]byte {
	return sha256.Sum256([]byte(Seed(env)))
}

// StaticEnvironment returns a fixed attribute list.
type StaticEnvironment []string

func (s StaticEnvironment) Attributes() []string {
	return append([]string(nil), s...)
}

// SystemEnvironment reads attributes from the running process.
//
// Attribute order: user agent, language, platform, terminal metrics, host.
type SystemEnvironment struct {
	// Version is embedded in the user agent attribute.
	Version string

	// IncludeTerminal adds the controlling terminal's size. Resizing the
	// terminal then changes the key, so it is off by default.
	IncludeTerminal bool
}

func (s SystemEnvironment) Attributes() []string {
	return []string{
		s.userAgent(),
		language(),
		runtime.GOOS + "/" + runtime.GOARCH,
		s.terminalMetrics(),
		hostname(),
	}
}

func (s SystemEnvironment) userAgent() string {
	version := s.Version
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("whanau/%s (%s; %s)", version, runtime.GOOS, runtime.GOARCH)
}

func (s SystemEnvironment) terminalMetrics() string {
	if !s.IncludeTerminal {
		return "0x0"
	}
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return "0x0"
	}
	width, height, err := term.GetSize(fd)
	if err != nil {
		return "0x0"
	}
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}

func language() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return "C"
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return h
}
