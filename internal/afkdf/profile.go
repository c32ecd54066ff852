// Package afkdf implements the Audio-Field Key Derivation Function (AF-KDF)
// and the authenticated encryption built on top of it: deriving a symmetric
// key from a passphrase and audio features, binding it to a ritual's
// temporal hash, and sealing/opening ciphertext envelopes with it.
//
// This is AUDIT-CRITICAL code - changes here directly affect whether
// existing vaults can still be unlocked.
package afkdf

import "time"

// Profile selects KDF hardness, audio-weight mixing, timing enforcement,
// and session policy. Tagged-enum dispatch over a static constant table -
// no inheritance, no per-profile method overrides.
type Profile int

const (
	QuickLock Profile = iota
	RitualLock
	BlackVault
)

func (p Profile) String() string {
	switch p {
	case QuickLock:
		return "QuickLock"
	case RitualLock:
		return "RitualLock"
	case BlackVault:
		return "BlackVault"
	default:
		return "unknown"
	}
}

// ID returns the single-byte profile identifier stored in ciphertext
// envelope headers and certificate payloads.
func (p Profile) ID() byte {
	switch p {
	case QuickLock:
		return 0
	case RitualLock:
		return 1
	case BlackVault:
		return 2
	default:
		return 0xFF
	}
}

// ProfileByID resolves a stored profile byte back to a Profile.
func ProfileByID(id byte) (Profile, bool) {
	switch id {
	case 0:
		return QuickLock, true
	case 1:
		return RitualLock, true
	case 2:
		return BlackVault, true
	default:
		return 0, false
	}
}

// Params holds a profile's fixed Argon2id hardness and audio-weight
// mixing constant.
//
// CRITICAL: these values MUST NOT change or existing vaults cannot be
// decrypted. See spec §6's profile constants table.
type Params struct {
	ArgonTime        uint32
	ArgonMemoryKiB   uint32
	ArgonParallelism uint8
	AudioWeight      float64 // w in [0,1]
	TimingEnforced   bool
	TimingStrict     bool // BlackVault's stricter elapsed-time window
	MicRequired      bool
	DefaultTTL       time.Duration
	MaxTTL           time.Duration
	BackgroundLock   bool
	SecureDelete     SecureDeleteMode
}

// SecureDeleteMode captures whether secure deletion of the session
// directory is optional, enabled, or always-on for a profile.
type SecureDeleteMode int

const (
	SecureDeleteOptional SecureDeleteMode = iota
	SecureDeleteEnabled
	SecureDeleteAlways
)

// profileTable is the static constant table keyed by profile tag. See
// spec §6 for the normative values; they must match byte-for-byte across
// implementations or interop breaks.
var profileTable = map[Profile]Params{
	QuickLock: {
		ArgonTime: 1, ArgonMemoryKiB: 32 * 1024, ArgonParallelism: 4,
		AudioWeight: 0.0, TimingEnforced: false, MicRequired: false,
		DefaultTTL: 30 * time.Minute, MaxTTL: 2 * time.Hour,
		BackgroundLock: false, SecureDelete: SecureDeleteOptional,
	},
	RitualLock: {
		ArgonTime: 3, ArgonMemoryKiB: 128 * 1024, ArgonParallelism: 4,
		AudioWeight: 0.7, TimingEnforced: true, MicRequired: false,
		DefaultTTL: 15 * time.Minute, MaxTTL: time.Hour,
		BackgroundLock: false, SecureDelete: SecureDeleteEnabled,
	},
	BlackVault: {
		ArgonTime: 5, ArgonMemoryKiB: 512 * 1024, ArgonParallelism: 4,
		AudioWeight: 1.0, TimingEnforced: true, TimingStrict: true, MicRequired: true,
		DefaultTTL: 5 * time.Minute, MaxTTL: 15 * time.Minute,
		BackgroundLock: true, SecureDelete: SecureDeleteAlways,
	},
}

// ParamsFor returns the fixed constants for a profile.
func ParamsFor(p Profile) Params {
	return profileTable[p]
}
