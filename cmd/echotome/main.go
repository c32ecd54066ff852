// Echotome derives file-encryption keys from a passphrase, a real-time
// ritual audio performance, and a device-bound Ed25519 identity.
//
//   - AF-KDF folds an Argon2id password key with an audio-derived key
//     under a fixed, profile-specific weight.
//   - A temporal salt chain binds the order and timing of playback.
//   - Ritual certificates sign the owner's identity to the performance,
//     optionally hidden inside a cover image via LSB steganography.
package main

import (
	"fmt"
	"os"

	"echotome/internal/cli"
)

const version = "v0.1"

func main() {
	if !cli.Execute(version) {
		fmt.Fprintf(os.Stderr, "echotome %s\n", version)
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage: echotome <command> [options]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  enroll     Perform a ritual and enroll a new vault")
		fmt.Fprintln(os.Stderr, "  unlock     Replay a ritual and unlock a vault")
		fmt.Fprintln(os.Stderr, "  lock       Securely wipe an unlocked vault's session directory")
		fmt.Fprintln(os.Stderr, "  status     Show a vault's metadata and session state")
		fmt.Fprintln(os.Stderr, "  rituals    Inspect a vault's ritual certificate")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run 'echotome <command> --help' for more information.")
		os.Exit(0)
	}
}
