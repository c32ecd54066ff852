package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"echotome/internal/session"
)

func init() {
	lockCmd.SilenceErrors = true
	lockCmd.SilenceUsage = true
	rootCmd.AddCommand(lockCmd)
}

var lockCmd = &cobra.Command{
	Use:   "lock <vault>",
	Short: "Securely wipe an unlocked vault's session directory",
	Long: `Lock runs a secure delete pass over a vault's decrypted session
directory and removes it. The CLI has no background daemon, so this
does not depend on the process that ran unlock still being alive - it
operates directly on the conventional session path on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runLock,
}

func runLock(cmd *cobra.Command, args []string) error {
	vaultID := args[0]
	dir := filepath.Join(vaultDataRoot(), "sessions", vaultID)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("no unlocked session found for vault %s", vaultID)
	}

	if err := session.SecureDelete(dir); err != nil {
		return fmt.Errorf("locking vault: %w", err)
	}
	fmt.Printf("Vault %s locked and wiped.\n", vaultID)
	return nil
}
