// Package cmd contains testing utilities shared between command tests.
// This file provides common functions for setting up an isolated device,
// capturing output, and running commands through the real root command.
package cmd

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/PolarWolf314/whanau/internal/configs"
	"github.com/PolarWolf314/whanau/internal/directory"
	"github.com/PolarWolf314/whanau/internal/fingerprint"
	"github.com/PolarWolf314/whanau/internal/session"
	"github.com/PolarWolf314/whanau/internal/workflows"
)

// testDevice is one isolated device: its own config, data directory and session.
type testDevice struct {
	settings *configs.UserSettings
	sessions *session.Memory
	env      fingerprint.StaticEnvironment
}

func newTestDevice(t *testing.T, host string) *testDevice {
	t.Helper()
	base := t.TempDir()
	return &testDevice{
		settings: &configs.UserSettings{
			ConfigDir: filepath.Join(base, "config"),
			DataDir:   filepath.Join(base, "data"),
			Username:  "testuser",
		},
		sessions: &session.Memory{},
		env:      fingerprint.StaticEnvironment{"whanau/test (linux; amd64)", "en_NZ.UTF-8", "linux/amd64", "0x0", host},
	}
}

// newSharedDirectory creates a FileDirectory that several test devices can share.
func newSharedDirectory(t *testing.T) *directory.FileDirectory {
	t.Helper()
	dir, err := directory.NewFileDirectory(filepath.Join(t.TempDir(), ".whanau"))
	if err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	return dir
}

// use points the commands at this device until the test ends.
// A nil dir leaves the directory to the user config.
func (d *testDevice) use(t *testing.T, dir directory.Directory) {
	t.Helper()
	originalSettings := configs.UserWhanauSettings
	t.Cleanup(func() {
		configs.UserWhanauSettings = originalSettings
		runtimeOverrides = nil
		ResetGlobalState()
	})

	configs.UserWhanauSettings = d.settings
	runtimeOverrides = func(opts *workflows.RuntimeOptions) {
		opts.Settings = d.settings
		opts.Sessions = d.sessions
		opts.Environment = d.env
		if dir != nil {
			opts.Directory = dir
		}
	}
}

// runCommand runs args through the root command and returns combined output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ResetGlobalState()
	RootCmd.SetArgs(args)
	return captureOutput(func() error {
		return RootCmd.Execute()
	})
}

// mustRun runs args and fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	output, err := runCommand(t, args...)
	if err != nil {
		t.Fatalf("Command %v failed: %v\nOutput: %s", args, err, output)
	}
	return output
}

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	stdoutReader, stdoutWriter, _ := os.Pipe()
	stderrReader, stderrWriter, _ := os.Pipe()

	os.Stdout = stdoutWriter
	os.Stderr = stderrWriter

	outputChan := make(chan string, 2)

	go func() {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, stdoutReader); err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	go func() {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, stderrReader); err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	err := fn()

	stdoutWriter.Close()
	stderrWriter.Close()

	os.Stdout = originalStdout
	os.Stderr = originalStderr

	first := <-outputChan
	second := <-outputChan

	return first + second, err
}

// withStdin replaces stdin with content for the duration of fn.
func withStdin(t *testing.T, content string, fn func()) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	if _, err := w.WriteString(content); err != nil {
		t.Fatalf("Failed to write stdin: %v", err)
	}
	w.Close()

	original := os.Stdin
	os.Stdin = r
	defer func() {
		os.Stdin = original
		r.Close()
	}()
	fn()
}
