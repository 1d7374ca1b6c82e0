package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/PolarWolf314/whanau/internal/utils"
	"github.com/PolarWolf314/whanau/internal/workflows"
	"github.com/briandowns/spinner"
)

// runtimeOverrides lets tests swap the session store, device environment and directory.
var runtimeOverrides func(*workflows.RuntimeOptions)

// openRuntime opens the device runtime for a command. The caller must Close it.
func openRuntime(ctx context.Context) (*workflows.Runtime, error) {
	opts := workflows.RuntimeOptions{
		Prompt: func(prompt string) (string, error) {
			pass, err := utils.ReadPassphrase(prompt)
			return string(pass), err
		},
		Log: Logger,
	}
	if runtimeOverrides != nil {
		runtimeOverrides(&opts)
	}
	return workflows.Open(ctx, opts)
}

// withRuntime opens the runtime, runs fn and closes it again.
func withRuntime(fn func(ctx context.Context, rt *workflows.Runtime) error) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			Logger.Warnf("Failed to close local stores: %v", cerr)
		}
	}()
	return fn(ctx, rt)
}

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// spinner.FinalMSG values do not need trailing newlines; cleanup adds one.
// cleanup is safe to call more than once.
func startSpinner(message string) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	done := false
	cleanup := func() {
		if done {
			return
		}
		done = true

		if quiet {
			log.SetOutput(os.Stdout)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			s.FinalMSG = ""
		}

		if quiet {
			s.Stop()
		}

		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// readLines returns args if any were given, otherwise one entry per non-empty line of stdin.
func readLines(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	return utils.ReadStdinLines()
}

// formatError turns a workflow error into the message shown to the user.
func formatError(err error) string {
	cross := ui.Fail("")
	arrow := ui.Hint("")

	switch {
	case errors.Is(err, kerrors.ErrNotRegistered),
		errors.Is(err, kerrors.ErrSenderKeyNotFound),
		errors.Is(err, kerrors.ErrRecipientKeyNotFound):
		return cross + "This device has no keypair\n" +
			arrow + "Run " + ui.Code.Sprint("whanau keys create --email <you@example.com>") + " first"

	case errors.Is(err, kerrors.ErrAlreadyRegistered):
		return cross + "A keypair already exists on this device\n" +
			arrow + "Use " + ui.Flag.Sprint("--force") + " to replace it. Pending invites sealed to the old key will no longer open"

	case errors.Is(err, kerrors.ErrNotAuthenticated):
		return cross + "This device is not logged in\n" +
			arrow + "Run " + ui.Code.Sprint("whanau login --token <token>") + " first"

	case errors.Is(err, kerrors.ErrDirectoryNotConfigured):
		return cross + "No directory is configured\n" +
			arrow + "Run " + ui.Code.Sprint("whanau config set-server --url <url>") + " or " +
			ui.Code.Sprint("whanau config set-server --directory <path>")

	case errors.Is(err, kerrors.ErrFamilyNotFound):
		return cross + "You are not a member of that family\n" +
			arrow + "Run " + ui.Code.Sprint("whanau family list") + " to see your families"

	case errors.Is(err, kerrors.ErrFamilyExists):
		return cross + "You already belong to a family with that name"

	case errors.Is(err, kerrors.ErrFamilyKeyNotFound):
		return cross + "The family key is not on this device\n" +
			arrow + "Ask the family admin to invite you again, or run " + ui.Code.Sprint("whanau family import")

	case errors.Is(err, kerrors.ErrInvalidInviteFormat):
		return cross + "That invite code is not in the right format\n" +
			arrow + "Packaged codes look like " + ui.Code.Sprint("FAMILY-XXXXXXXXXXXXXXXX:<key>")

	case errors.Is(err, kerrors.ErrInviteNotFound):
		return cross + "No invite exists with that code"

	case errors.Is(err, kerrors.ErrInviteExpired):
		return cross + "This invite has expired\n" +
			arrow + "Ask for a new invite"

	case errors.Is(err, kerrors.ErrInviteNotPending):
		return cross + "This invite has already been used or cancelled"

	case errors.Is(err, kerrors.ErrInviteMismatch):
		return cross + "This invite cannot be used here: " + err.Error()

	case errors.Is(err, kerrors.ErrRecipientNotRegistered):
		return cross + "That person has not registered a public key yet\n" +
			arrow + "Ask them to run " + ui.Code.Sprint("whanau keys create") + ", or send a packaged code instead"

	case errors.Is(err, kerrors.ErrInvalidTransition):
		return cross + "That step is not allowed right now: " + err.Error()

	case errors.Is(err, kerrors.ErrInvalidEmail):
		return cross + "That email address is not valid"

	case errors.Is(err, kerrors.ErrInvalidKeyMaterial),
		errors.Is(err, kerrors.ErrInvalidKeyFormat),
		errors.Is(err, kerrors.ErrInvalidKeyLength):
		return cross + "That family key is not valid"

	case errors.Is(err, kerrors.ErrPassphraseRequired):
		return cross + "A backup passphrase is required: " + err.Error() + "\n" +
			arrow + "Enter it when asked, or set " + ui.Code.Sprint(backupPassphraseEnv)

	case errors.Is(err, kerrors.ErrInvalidFamilyID):
		return cross + "A family name or id is required"

	case errors.Is(err, kerrors.ErrDecryptionFailed):
		return cross + "Decryption failed\n" +
			arrow + "The data was changed or was encrypted for a different family"

	case errors.Is(err, kerrors.ErrNoFilesFound):
		return cross + "No matching files found: " + err.Error()

	case errors.Is(err, kerrors.ErrFileNotFound):
		return cross + "File not found: " + err.Error()

	case errors.Is(err, kerrors.ErrEnvironmentUnsupported),
		errors.Is(err, kerrors.ErrStorageQuotaExceeded),
		errors.Is(err, kerrors.ErrCryptoUnavailable):
		return cross + "Local encrypted storage is unavailable: " + err.Error()

	default:
		return cross + err.Error()
	}
}

// isUnexpectedError reports whether err should give a non-zero exit after being displayed.
func isUnexpectedError(err error) bool {
	expected := []error{
		kerrors.ErrNotRegistered,
		kerrors.ErrSenderKeyNotFound,
		kerrors.ErrRecipientKeyNotFound,
		kerrors.ErrAlreadyRegistered,
		kerrors.ErrNotAuthenticated,
		kerrors.ErrDirectoryNotConfigured,
		kerrors.ErrFamilyNotFound,
		kerrors.ErrFamilyExists,
		kerrors.ErrFamilyKeyNotFound,
		kerrors.ErrInvalidInviteFormat,
		kerrors.ErrInviteNotFound,
		kerrors.ErrInviteExpired,
		kerrors.ErrInviteNotPending,
		kerrors.ErrInviteMismatch,
		kerrors.ErrRecipientNotRegistered,
		kerrors.ErrInvalidTransition,
		kerrors.ErrInvalidEmail,
		kerrors.ErrInvalidKeyMaterial,
		kerrors.ErrInvalidKeyFormat,
		kerrors.ErrInvalidKeyLength,
		kerrors.ErrInvalidFamilyID,
		kerrors.ErrPassphraseRequired,
		kerrors.ErrNoFilesFound,
		kerrors.ErrFileNotFound,
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return false
		}
	}
	return true
}

// reportError shows err on the spinner and returns it only if it is unexpected.
func reportError(s *spinner.Spinner, err error) error {
	s.FinalMSG = formatError(err)
	if isUnexpectedError(err) {
		return err
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
