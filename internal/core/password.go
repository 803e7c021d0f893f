package core

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/term"

	"github.com/illarion/moodlock/internal/crypto"
)

// PasswordEnv is the environment variable read by GetPasswordFromEnv.
const PasswordEnv = "MOODLOCK_PASSWORD"

// ErrWeakPassword is returned when a new password scores below the configured minimum.
var ErrWeakPassword = errors.New("password is too weak")

// WeakPasswordError carries the strength estimate of a rejected password.
type WeakPasswordError struct {
	Score     int
	MinScore  int
	CrackTime string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("%v: score %d of 4, need %d (cracked in %s)", ErrWeakPassword, e.Score, e.MinScore, e.CrackTime)
}

func (e *WeakPasswordError) Unwrap() error {
	return ErrWeakPassword
}

// CheckPasswordStrength rejects passwords whose zxcvbn score is below minScore.
func CheckPasswordStrength(password []byte, minScore int) error {
	if len(password) == 0 {
		return ErrPasswordRequired
	}
	if minScore <= 0 {
		return nil
	}
	result := zxcvbn.PasswordStrength(string(password), []string{"moodlock", "journal", "mood"})
	if result.Score < minScore {
		return &WeakPasswordError{Score: result.Score, MinScore: minScore, CrackTime: result.CrackTimeDisplay}
	}
	return nil
}

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // New line after password

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(prompt string) ([]byte, error) {
	password1, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, fmt.Errorf("passwords do not match")
	}

	// Return a copy of the password
	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// ReadLine reads a visible line from the terminal, such as a recovery secret.
func ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// GetPasswordFromEnv reads password from MOODLOCK_PASSWORD environment variable
func GetPasswordFromEnv() []byte {
	password := os.Getenv(PasswordEnv)
	if password == "" {
		return nil
	}
	// Return a copy to avoid issues when clearing the bytes
	result := make([]byte, len(password))
	copy(result, []byte(password))
	return result
}
