package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/lifecycle"
	"github.com/illarion/moodlock/internal/security"
	"github.com/illarion/moodlock/internal/status"
	"github.com/illarion/moodlock/internal/ui"
)

// GetPassword retrieves password from environment or prompts user
// The caller is responsible for calling crypto.ClearBytes on the returned password
func GetPassword(prompt string) ([]byte, error) {
	// Try environment variable first
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return core.ReadPassword(prompt)
}

// GetNewPassword retrieves a new password from environment or prompts twice
func GetNewPassword(prompt string) ([]byte, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return core.ReadPasswordConfirm(prompt)
}

func showProgress() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// openJournal opens the journal and loads the key from the session. Without a
// session the password is taken from MOODLOCK_PASSWORD if set.
func openJournal(ctx context.Context) (*core.Moodlock, error) {
	m, err := core.New(ctx, cfg, core.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	err = m.Restore(ctx)
	if errors.Is(err, core.ErrNotLoggedIn) {
		if password := core.GetPasswordFromEnv(); password != nil {
			defer crypto.ClearBytes(password)
			err = withProgress(m, "unlocking", func() error {
				_, err := m.Login(ctx, password)
				return err
			})
		}
	}
	if err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// withProgress runs fn with a spinner following the key status.
func withProgress(m *core.Moodlock, message string, fn func() error) error {
	p := ui.StartProgress(os.Stderr, message, showProgress())
	updates, unsubscribe := m.Status().Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range updates {
			if snap.Progress.Status != crypto.StatusIdle {
				p.Update(snap.Progress)
			}
		}
	}()

	err := fn()
	unsubscribe()
	<-done
	p.Stop("")
	return err
}

// printSession prints the shell line that exports the session token.
func printSession(m *core.Moodlock) error {
	token, err := m.SessionToken()
	if err != nil {
		return err
	}
	fmt.Printf("export MOODLOCK_SESSION=%q\n", token)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, ui.Hint("To unlock this shell, run:", `eval "$(moodlock login)"`))
	}
	return nil
}

func stderr(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

// HandleError prints err with a hint on how to resolve it
func HandleError(err error) {
	var uae *status.UserActionError
	var weak *core.WeakPasswordError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, crypto.ErrTaskCancelled):
		stderr(ui.Warning("interrupted"))
	case errors.Is(err, core.ErrNotInitialized):
		stderr(ui.Failure("moodlock not initialized"))
		stderr(ui.Hint("Create a journal with", "moodlock init"))
	case errors.Is(err, core.ErrAlreadyExists):
		stderr(ui.Failure(err.Error()))
		stderr(ui.Hint("See the current state with", "moodlock status"))
	case errors.Is(err, core.ErrNotLoggedIn), errors.Is(err, crypto.ErrKeyUnavailable) && !errors.As(err, &uae):
		stderr(ui.Failure("journal is locked"))
		stderr(ui.Hint("Unlock it with", `eval "$(moodlock login)"`))
	case errors.As(err, &weak):
		stderr(ui.Failure(fmt.Sprintf("password is too weak (score %d of 4, need %d)", weak.Score, weak.MinScore)))
		stderr(ui.Hint(fmt.Sprintf("It could be cracked in %s. Use a longer passphrase.", weak.CrackTime), ""))
	case errors.As(err, &uae):
		switch uae.Action {
		case status.ActionRelogin:
			stderr(ui.Failure("wrong password or expired session"))
			stderr(ui.Hint("Log in again with", `eval "$(moodlock login)"`))
			stderr(ui.Hint("Forgot your password? Use", "moodlock recovery use"))
		case status.ActionEnterRecoveryKey:
			stderr(ui.Failure("recovery key rejected"))
			stderr(ui.Hint("Check the key and run again:", "moodlock recovery use"))
		default:
			stderr(ui.Failure(fmt.Sprintf("stored encryption settings are invalid: %v", uae.Err)))
			stderr(ui.Hint("Your journal cannot be unlocked; restore it from a backup", ""))
		}
	case errors.Is(err, lifecycle.ErrBusy):
		stderr(ui.Failure("another key operation is in progress"))
	case errors.Is(err, core.ErrNoRecoveryKey):
		stderr(ui.Failure("no recovery key saved for this journal"))
	case errors.Is(err, core.ErrNoEncryptionState):
		stderr(ui.Failure("encryption is not set up"))
		stderr(ui.Hint("Set it up with", "moodlock init"))
	case errors.Is(err, core.ErrRemoteRotation):
		stderr(ui.Failure(err.Error()))
		stderr(ui.Hint("Entries stored on the API cannot be re-encrypted from this client", ""))
	case errors.Is(err, crypto.ErrDecryptionFailed):
		stderr(ui.Failure("entry could not be decrypted; it is corrupted or belongs to another account"))
	case errors.Is(err, security.ErrFileExists):
		stderr(ui.Failure(err.Error()))
		stderr(ui.Hint("Overwrite it with", "--force"))
	default:
		stderr(ui.Failure(err.Error()))
	}
}
