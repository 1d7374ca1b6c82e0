package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Formatter renders one kind of CLI value. With color it paints the text;
// without, it wraps the text in its plain-text marks.
type Formatter struct {
	color *color.Color
	open  string
	close string
}

func newFormatter(open, close string, attrs ...color.Attribute) Formatter {
	return Formatter{color: color.New(attrs...), open: open, close: close}
}

func (f Formatter) render(text string) string {
	if noColor() {
		return f.open + text + f.close
	}
	return f.color.Sprint(text)
}

// Sprint formats like fmt.Sprint.
func (f Formatter) Sprint(a ...interface{}) string {
	return f.render(fmt.Sprint(a...))
}

// Sprintf formats like fmt.Sprintf.
func (f Formatter) Sprintf(format string, a ...interface{}) string {
	return f.render(fmt.Sprintf(format, a...))
}

var (
	// Code is a command the user can run: yellow, or `backticks`.
	Code = newFormatter("`", "`", color.FgYellow)

	// Path is a file or folder: yellow, undecorated.
	Path = newFormatter("", "", color.FgYellow)

	// Flag is a command line flag: yellow, undecorated.
	Flag = newFormatter("", "", color.FgYellow)

	Success = newFormatter("", "", color.FgGreen)
	Error   = newFormatter("", "", color.FgRed)
	Warning = newFormatter("", "", color.FgYellow)
	Info    = newFormatter("", "", color.FgCyan)

	// Highlight is a value the user gave: an email, family or device name.
	// Cyan, or 'single quotes'.
	Highlight = newFormatter("'", "'", color.FgCyan)

	// Muted is secondary detail such as ids: gray, or (parentheses).
	Muted = newFormatter("(", ")", color.FgHiBlack)

	// Secret is an invite code or family key: bold magenta, or <angle brackets>.
	Secret = newFormatter("<", ">", color.FgMagenta, color.Bold)
)

// Status line marks.
const (
	MarkDone   = "✓"
	MarkFail   = "✗"
	MarkHint   = "→"
	MarkNotice = "⚠"
	MarkInfo   = "ℹ"
)

// Done is a success line.
func Done(msg string) string { return Success.Sprint(MarkDone) + " " + msg }

// Fail is an error line.
func Fail(msg string) string { return Error.Sprint(MarkFail) + " " + msg }

// Hint suggests what to do next.
func Hint(msg string) string { return Info.Sprint(MarkHint) + " " + msg }

// Notice is a warning line.
func Notice(msg string) string { return Warning.Sprint(MarkNotice) + " " + msg }

// Note is a neutral informational line.
func Note(msg string) string { return Info.Sprint(MarkInfo) + " " + msg }

// EnsureNewline appends a newline to s unless it already ends in one.
func EnsureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// KeyFingerprint groups a hex fingerprint into blocks of four so people can read it aloud.
func KeyFingerprint(hex string) string {
	groups := make([]string, 0, (len(hex)+3)/4)
	for len(hex) > 4 {
		groups = append(groups, hex[:4])
		hex = hex[4:]
	}
	if hex != "" {
		groups = append(groups, hex)
	}
	return Muted.Sprint(strings.Join(groups, " "))
}

// noColor honours NO_COLOR (https://no-color.org/) and fatih/color's own
// terminal detection.
func noColor() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return true
	}
	return color.NoColor
}
