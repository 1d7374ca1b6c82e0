package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxLineSize bounds one stdin line. Encrypted messages are single base64 lines.
const maxLineSize = 16 << 20

var errNoPipedInput = errors.New("nothing was piped to stdin")

// ReadStdin reads everything piped to the process. It refuses an
// interactive terminal rather than blocking on it.
func ReadStdin() ([]byte, error) {
	if err := requirePipedStdin(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("stdin is empty")
	}
	return data, nil
}

// ReadStdinLines returns the non-empty lines piped to the process, without
// their line endings.
func ReadStdinLines() ([]string, error) {
	if err := requirePipedStdin(); err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("stdin is empty")
	}
	return lines, nil
}

func requirePipedStdin() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("inspecting stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return fmt.Errorf("%w (pipe input in, one message per line)", errNoPipedInput)
	}
	return nil
}
