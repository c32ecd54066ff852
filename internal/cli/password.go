package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Picocrypt/zxcvbn-go"
)

var (
	ErrPassphraseMismatch = errors.New("passphrases do not match")
	ErrPassphraseEmpty    = errors.New("passphrase cannot be empty")
)

// isTerminal returns true if stdin is a terminal (not piped/redirected).
func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readPassphraseSecure reads a passphrase from stdin without echo.
// Falls back to buffered read if stdin is not a terminal.
func readPassphraseSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		pw = strings.TrimSuffix(pw, "\n")
		pw = strings.TrimSuffix(pw, "\r")
		return pw, nil
	}

	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

// ReadPassphraseInteractive prompts for a passphrase interactively.
// If confirm is true, asks for confirmation (for enrollment).
func ReadPassphraseInteractive(confirm bool) (string, error) {
	passphrase, err := readPassphraseSecure("Passphrase: ")
	if err != nil {
		return "", err
	}

	if passphrase == "" {
		return "", ErrPassphraseEmpty
	}

	if confirm {
		confirmation, err := readPassphraseSecure("Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if passphrase != confirmation {
			return "", ErrPassphraseMismatch
		}
		warnIfWeakPassphrase(passphrase)
	}

	return passphrase, nil
}

// warnIfWeakPassphrase prints a stderr hint for low-entropy passphrases.
// It never rejects a passphrase: the ritual audio performance and the
// device identity already make a low-entropy passphrase alone
// insufficient to derive the master key.
func warnIfWeakPassphrase(passphrase string) {
	score := zxcvbn.PasswordStrength(passphrase, nil).Score
	if score < 3 {
		fmt.Fprintf(os.Stderr, "Warning: passphrase strength %d/4, consider a longer one.\n", score)
	}
}

// ReadPassphraseFromStdin reads a passphrase from stdin (for piped input with -P flag).
func ReadPassphraseFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	pw, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading passphrase from stdin: %w", err)
	}
	pw = strings.TrimSuffix(pw, "\n")
	pw = strings.TrimSuffix(pw, "\r")
	return pw, nil
}
