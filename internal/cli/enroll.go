package cli

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"echotome/internal/afkdf"
	"echotome/internal/capture"
	"echotome/internal/util"
	"echotome/internal/vaultstore"
)

func init() {
	enrollCmd.SilenceErrors = true
	enrollCmd.SilenceUsage = true
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Perform a ritual and enroll a new vault",
	Long: `Enroll records a live ritual performance (or loads one from a raw
sample dump), derives an AF-KDF master key from your passphrase and the
performance's audio features, encrypts the given input file under it,
and signs a ritual certificate binding your identity to the performance.

Examples:
  # Enroll interactively with a 10-second live ritual recording
  echotome enroll -i secret.txt --vault my-vault --duration 10s

  # Enroll into BlackVault, hiding the certificate inside a cover image
  echotome enroll -i secret.txt --vault my-vault --profile BlackVault --cover photo.png

  # Enroll from a previously captured raw float64 sample dump (testing)
  echotome enroll -i secret.txt --vault my-vault --samples-file ritual.raw

  # Enroll a two-track ritual, played back in order at unlock
  echotome enroll -i secret.txt --vault my-vault --samples-file t1.raw --samples-file t2.raw`,
	RunE: runEnroll,
}

var (
	enrollInput       string
	enrollVaultID     string
	enrollName        string
	enrollProfile     string
	enrollPassphrase  string
	enrollPassStdin   bool
	enrollDuration    time.Duration
	enrollSamplesFile []string
	enrollTracks      int
	enrollCover       string
	enrollQuiet       bool
)

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().StringVarP(&enrollInput, "input", "i", "", "File to encrypt and enroll")
	enrollCmd.Flags().StringVar(&enrollVaultID, "vault", "", "Vault identifier (defaults to the input file's base name)")
	enrollCmd.Flags().StringVar(&enrollName, "name", "", "Human-readable vault name")
	enrollCmd.Flags().StringVar(&enrollProfile, "profile", "RitualLock", "Privacy profile: QuickLock, RitualLock, or BlackVault")

	enrollCmd.Flags().StringVarP(&enrollPassphrase, "passphrase", "p", "", "Ritual passphrase")
	enrollCmd.Flags().BoolVarP(&enrollPassStdin, "passphrase-stdin", "P", false, "Read passphrase from stdin")

	enrollCmd.Flags().DurationVar(&enrollDuration, "duration", 10*time.Second, "Live ritual recording duration")
	enrollCmd.Flags().StringArrayVar(&enrollSamplesFile, "samples-file", nil, "Load a raw little-endian float64 PCM dump instead of recording live; repeat in order for a multi-track ritual")
	enrollCmd.Flags().IntVar(&enrollTracks, "tracks", 1, "Number of sequential live recordings to bind, in order, as one ritual")
	enrollCmd.Flags().StringVar(&enrollCover, "cover", "", "Cover PNG image to hide the ritual certificate inside")

	enrollCmd.Flags().BoolVarP(&enrollQuiet, "quiet", "q", false, "Suppress progress output")

	_ = enrollCmd.MarkFlagRequired("input")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	if enrollInput == "" {
		return fmt.Errorf("input file is required (-i)")
	}
	plaintext, err := os.ReadFile(enrollInput)
	if err != nil {
		return fmt.Errorf("reading input file: %w", err)
	}

	profile, ok := parseProfile(enrollProfile)
	if !ok {
		return fmt.Errorf("unknown profile %q (want QuickLock, RitualLock, or BlackVault)", enrollProfile)
	}

	vaultID := enrollVaultID
	if vaultID == "" {
		vaultID = filepath.Base(enrollInput)
	}

	passphrase := enrollPassphrase
	if enrollPassStdin {
		passphrase, err = ReadPassphraseFromStdin()
		if err != nil {
			return err
		}
	} else if passphrase == "" {
		passphrase, err = ReadPassphraseInteractive(true)
		if err != nil {
			return fmt.Errorf("passphrase input: %w", err)
		}
	}

	var cover image.Image
	if enrollCover != "" {
		cover, err = loadCoverImage(enrollCover)
		if err != nil {
			return fmt.Errorf("loading cover image: %w", err)
		}
	}

	id, err := loadIdentity()
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}

	reporter := NewReporter(enrollQuiet)
	globalReporter = reporter

	tracks, totalElapsed, err := gatherTracks(enrollSamplesFile, enrollTracks, enrollDuration, enrollQuiet, "Recording")
	if err != nil {
		return err
	}

	result, err := vaultstore.Enroll(vaultDataRoot(), id, &vaultstore.EnrollRequest{
		VaultID:    vaultID,
		Name:       enrollName,
		Profile:    profile,
		Passphrase: passphrase,
		Tracks:     tracks,
		Plaintext:  plaintext,
		CoverImage: cover,
		Reporter:   reporter,
	})
	reporter.Finish()

	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	reporter.PrintSuccess("Vault enrolled: %s (rune %s, %d track(s), performance %s)",
		result.Meta.ID, result.Meta.RuneID, len(tracks), util.Timeify(int(totalElapsed.Seconds())))
	return nil
}

// gatherTracks builds the ordered list of ritual tracks either from
// samplesFiles (one raw PCM dump per track, in order) or by recording
// numTracks sequential live performances of duration each. It returns the
// tracks alongside their combined elapsed time.
func gatherTracks(samplesFiles []string, numTracks int, duration time.Duration, quiet bool, verb string) ([]vaultstore.TrackCapture, time.Duration, error) {
	if len(samplesFiles) > 0 {
		tracks := make([]vaultstore.TrackCapture, 0, len(samplesFiles))
		var total time.Duration
		for _, path := range samplesFiles {
			samples, err := loadSamplesFile(path)
			if err != nil {
				return nil, 0, fmt.Errorf("loading samples file %q: %w", path, err)
			}
			elapsed := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
			tracks = append(tracks, vaultstore.TrackCapture{Samples: samples, SampleRate: sampleRate, Elapsed: elapsed})
			total += elapsed
		}
		return tracks, total, nil
	}

	if numTracks < 1 {
		numTracks = 1
	}
	rec, err := capture.NewRecorder(sampleRate)
	if err != nil {
		return nil, 0, fmt.Errorf("opening microphone: %w", err)
	}
	defer rec.Close()

	tracks := make([]vaultstore.TrackCapture, 0, numTracks)
	var total time.Duration
	for i := 0; i < numTracks; i++ {
		if !quiet {
			if numTracks > 1 {
				fmt.Fprintf(os.Stderr, "%s ritual performance %d/%d for %s...\n", verb, i+1, numTracks, duration)
			} else {
				fmt.Fprintf(os.Stderr, "%s ritual performance for %s...\n", verb, duration)
			}
		}
		start := time.Now()
		samples, err := rec.Record(duration)
		if err != nil {
			return nil, 0, fmt.Errorf("recording ritual: %w", err)
		}
		elapsed := time.Since(start)
		tracks = append(tracks, vaultstore.TrackCapture{Samples: samples, SampleRate: sampleRate, Elapsed: elapsed})
		total += elapsed
	}
	return tracks, total, nil
}

func parseProfile(name string) (afkdf.Profile, bool) {
	switch name {
	case "QuickLock":
		return afkdf.QuickLock, true
	case "RitualLock":
		return afkdf.RitualLock, true
	case "BlackVault":
		return afkdf.BlackVault, true
	default:
		return 0, false
	}
}

func loadCoverImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// loadSamplesFile reads a raw little-endian float64 PCM dump, used for
// scripted enrollment/unlock without a live microphone.
func loadSamplesFile(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("samples file length %d is not a multiple of 8 bytes", len(data))
	}
	samples := make([]float64, len(data)/8)
	for i := range samples {
		bits := binary.LittleEndian.Uint64(data[i*8:])
		samples[i] = math.Float64frombits(bits)
	}
	return samples, nil
}
