package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"echotome/internal/certificate"
	"echotome/internal/stego"
)

func init() {
	ritualsCmd.SilenceErrors = true
	ritualsCmd.SilenceUsage = true
	rootCmd.AddCommand(ritualsCmd)
}

var ritualsCmd = &cobra.Command{
	Use:   "rituals <vault>",
	Short: "Inspect a vault's ritual certificate and its tracks",
	Args:  cobra.ExactArgs(1),
	RunE:  runRituals,
}

func runRituals(cmd *cobra.Command, args []string) error {
	vaultID := args[0]
	dir := filepath.Join(vaultDataRoot(), "vaults", vaultID)

	var cert *certificate.RitualCertificate
	if path := filepath.Join(dir, "certificate.png"); fileExists(path) {
		cert = &certificate.RitualCertificate{}
		if err := loadEmbeddedCertificate(path, cert); err != nil {
			return err
		}
	} else {
		var err error
		cert, err = certificate.Load(filepath.Join(dir, "certificate.json"))
		if err != nil {
			return fmt.Errorf("loading certificate: %w", err)
		}
	}

	if err := certificate.Verify(cert, nil); err != nil {
		fmt.Printf("Signature:   INVALID (%v)\n", err)
	} else {
		fmt.Println("Signature:   valid")
	}

	fmt.Printf("Rune ID:     %s\n", cert.RuneID)
	fmt.Printf("Owner:       %s\n", hex.EncodeToString(cert.OwnerPub))
	fmt.Printf("Profile:     %s\n", cert.Profile)
	fmt.Printf("Created:     %s\n", cert.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Tracks:      %d\n", len(cert.Tracks))

	for i, track := range cert.Tracks {
		switch track.Kind {
		case certificate.KindAudio:
			a := track.Audio
			fmt.Printf("  [%d] audio: region [%d,%d) elapsed=%dms feature_hash=%s\n",
				i, a.RegionStart, a.RegionEnd, a.ElapsedMillis, hex.EncodeToString(a.FeatureHash)[:16])
		case certificate.KindMarker:
			fmt.Printf("  [%d] marker: %s\n", i, track.Marker.Label)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadEmbeddedCertificate(path string, out *certificate.RitualCertificate) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening cover image: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return fmt.Errorf("decoding cover image: %w", err)
	}
	payload, err := stego.Extract(img)
	if err != nil {
		return fmt.Errorf("extracting certificate: %w", err)
	}
	return json.Unmarshal(payload, out)
}
