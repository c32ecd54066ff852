package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"echotome/internal/util"
	"echotome/internal/vaultstore"
)

func init() {
	statusCmd.SilenceErrors = true
	statusCmd.SilenceUsage = true
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <vault>",
	Short: "Show a vault's metadata and whether its session is currently unlocked",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	vaultID := args[0]
	meta, err := vaultstore.LoadMeta(vaultDataRoot(), vaultID)
	if err != nil {
		return fmt.Errorf("loading vault metadata: %w", err)
	}

	fmt.Printf("Vault:        %s\n", meta.ID)
	if meta.Name != "" {
		fmt.Printf("Name:         %s\n", meta.Name)
	}
	fmt.Printf("Profile:      %s\n", meta.Profile)
	fmt.Printf("Rune ID:      %s\n", meta.RuneID)
	fmt.Printf("Created:      %s\n", meta.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Certificate:  %s\n", meta.CertificatePath)

	var total int64
	for _, b := range meta.EncryptedBlobs {
		total += b.Size
	}
	fmt.Printf("Blobs:        %d (%s)\n", len(meta.EncryptedBlobs), util.Sizeify(total))

	sessionDir := filepath.Join(vaultDataRoot(), "sessions", vaultID)
	if _, err := os.Stat(sessionDir); err == nil {
		fmt.Printf("Session:      unlocked (%s)\n", sessionDir)
	} else {
		fmt.Println("Session:      locked")
	}
	return nil
}
