package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by main.go
var Version = "dev"

// rootCmd is the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "echotome",
	Short: "Personal ritual-cryptography vault",
	Long: `Echotome derives file-encryption keys from a passphrase, a real-time
ritual audio performance, and a device-bound Ed25519 identity. It uses:
  - AF-KDF: Argon2id folded with an audio-derived key under a fixed weight
  - XChaCha20-Poly1305 (AES-GCM fallback), with a Serpent-CTR cascade in BlackVault
  - A temporal salt chain binding playback order and timing
  - Signed ritual certificates, optionally hidden inside a cover image`,
	Version: Version,
}

// Global reporter for signal handling
var globalReporter *Reporter

// Execute runs the CLI application.
// Returns true if a known subcommand was run, false if no known
// subcommand was given (the caller then prints usage).
func Execute(version string) bool {
	Version = version
	rootCmd.Version = version

	// Check if we're in CLI mode (have subcommands)
	if len(os.Args) < 2 {
		return false
	}

	// Check if first arg is a known subcommand
	cmd := os.Args[1]
	switch cmd {
	case "enroll", "unlock", "lock", "status", "rituals", "help", "--help", "-h", "version", "--version", "-v":
	default:
		return false
	}

	// Set up signal handling for graceful cancellation
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if globalReporter != nil {
			globalReporter.Cancel()
			fmt.Fprintln(os.Stderr, "\nCancelling operation...")
		} else {
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	return true
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
