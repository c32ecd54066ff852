package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	echoerr "echotome/internal/errors"
	"echotome/internal/vaultstore"
)

func init() {
	unlockCmd.SilenceErrors = true
	unlockCmd.SilenceUsage = true
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Replay a ritual and unlock a vault",
	Long: `Unlock replays the vault's ritual - live or from a raw sample dump -
verifies its certificate and temporal consistency against the enrolled
performance, and decrypts the vault's contents into a tracked, TTL-bound
session directory.

Examples:
  # Unlock interactively, replaying the ritual for 10 seconds
  echotome unlock --vault my-vault --duration 10s

  # Unlock from a raw sample dump (testing)
  echotome unlock --vault my-vault --samples-file ritual.raw

  # Unlock a two-track ritual - must replay tracks in enrolled order
  echotome unlock --vault my-vault --samples-file t1.raw --samples-file t2.raw`,
	RunE: runUnlock,
}

var (
	unlockVaultID     string
	unlockPassphrase  string
	unlockPassStdin   bool
	unlockDuration    time.Duration
	unlockSamplesFile []string
	unlockTracks      int
	unlockQuiet       bool
)

func init() {
	rootCmd.AddCommand(unlockCmd)

	unlockCmd.Flags().StringVar(&unlockVaultID, "vault", "", "Vault identifier")
	unlockCmd.Flags().StringVarP(&unlockPassphrase, "passphrase", "p", "", "Ritual passphrase")
	unlockCmd.Flags().BoolVarP(&unlockPassStdin, "passphrase-stdin", "P", false, "Read passphrase from stdin")
	unlockCmd.Flags().DurationVar(&unlockDuration, "duration", 10*time.Second, "Live ritual recording duration")
	unlockCmd.Flags().StringArrayVar(&unlockSamplesFile, "samples-file", nil, "Load a raw little-endian float64 PCM dump instead of recording live; repeat in enrolled order for a multi-track ritual")
	unlockCmd.Flags().IntVar(&unlockTracks, "tracks", 1, "Number of sequential live recordings to replay, in enrolled order, as one ritual")
	unlockCmd.Flags().BoolVarP(&unlockQuiet, "quiet", "q", false, "Suppress progress output")

	_ = unlockCmd.MarkFlagRequired("vault")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	if unlockVaultID == "" {
		return fmt.Errorf("vault identifier is required (--vault)")
	}

	passphrase := unlockPassphrase
	var err error
	if unlockPassStdin {
		passphrase, err = ReadPassphraseFromStdin()
		if err != nil {
			return err
		}
	} else if passphrase == "" {
		passphrase, err = ReadPassphraseInteractive(false)
		if err != nil {
			return fmt.Errorf("passphrase input: %w", err)
		}
	}

	reporter := NewReporter(unlockQuiet)
	globalReporter = reporter

	tracks, _, err := gatherTracks(unlockSamplesFile, unlockTracks, unlockDuration, unlockQuiet, "Replaying")
	if err != nil {
		return err
	}

	sessionDir := filepath.Join(vaultDataRoot(), "sessions", unlockVaultID)
	result, err := vaultstore.Unlock(vaultDataRoot(), sessionManager(), &vaultstore.UnlockRequest{
		VaultID:    unlockVaultID,
		Passphrase: passphrase,
		Tracks:     tracks,
		SessionDir: sessionDir,
		Reporter:   reporter,
	})
	reporter.Finish()

	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	reporter.PrintSuccess("Vault unlocked: %s (rune %s, %d track(s)) -> %s", unlockVaultID, result.RuneID, len(tracks), sessionDir)
	fmt.Fprintln(os.Stderr, "Session active. Press Ctrl+C to lock early, otherwise it locks automatically at TTL expiry.")
	holdSession(unlockVaultID)
	return nil
}

// holdSession blocks until vaultID's session is wiped, either by the
// manager's background TTL sweep or by an explicit Ctrl+C, which locks
// it immediately. The CLI has no long-running daemon, so a session only
// stays tracked for the lifetime of the process that unlocked it.
func holdSession(vaultID string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			if err := sessionManager().Lock(vaultID); err != nil {
				fmt.Fprintf(os.Stderr, "lock on interrupt: %v\n", err)
			}
			return
		case <-ticker.C:
			if _, err := sessionManager().Get(vaultID); echoerr.Is(err, echoerr.ErrSessionNotFound) {
				fmt.Fprintln(os.Stderr, "Session expired and wiped.")
				return
			}
		}
	}
}
