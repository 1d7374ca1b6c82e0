package utils

import (
	"bufio"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/term"
)

// openTTY opens the controlling terminal, which stays reachable when stdout
// is redirected.
func openTTY(flag int) (*os.File, error) {
	name := "/dev/tty"
	if runtime.GOOS == "windows" {
		name = "CON"
	}
	tty, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open terminal %s: %w", name, err)
	}
	return tty, nil
}

// ReadPassphrase prompts on stderr and reads a line from stdin without echo.
// It is used for the session keyring password and backup passphrases.
func ReadPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot read passphrase: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	passphrase, err := term.ReadPassword(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// IsTerminal reports whether stdin is interactive.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsTTYAvailable reports whether a controlling terminal exists to show
// secrets on.
func IsTTYAvailable() bool {
	tty, err := openTTY(os.O_RDONLY)
	if err != nil {
		return false
	}
	defer tty.Close()
	return term.IsTerminal(int(tty.Fd()))
}

// WriteToTTY writes straight to the terminal so family keys never pass
// through stdout, pipes or shell logs.
func WriteToTTY(content string) error {
	tty, err := openTTY(os.O_WRONLY)
	if err != nil {
		return err
	}
	defer tty.Close()

	if _, err := tty.WriteString(content); err != nil {
		return fmt.Errorf("writing to terminal: %w", err)
	}
	return nil
}

// ClearScreen wipes the terminal and its scrollback after a key was shown.
func ClearScreen() error {
	return WriteToTTY("\033[3J\033[2J\033[H")
}

// WaitForEnterFromTTY blocks until a line is entered on the terminal.
func WaitForEnterFromTTY() error {
	tty, err := openTTY(os.O_RDONLY)
	if err != nil {
		return err
	}
	defer tty.Close()

	if _, err := bufio.NewReader(tty).ReadString('\n'); err != nil {
		return fmt.Errorf("reading from terminal: %w", err)
	}
	return nil
}
