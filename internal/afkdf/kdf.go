package afkdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	echoerr "echotome/internal/errors"
)

const (
	masterKeySize = 32
	saltDomain    = "echotome-afkdf-v1"
	audioInfo     = "echotome-afkdf-audio-v1"
	maskDomain    = "echotome-afkdf-mask-v1"
	tbkDomain     = "echotome-tbk-v1"
	serpentDomain = "echotome-serpent-v1"
)

// DeriveSalt computes the Argon2id salt bound to a ritual's audio
// fingerprint: SHA-256(domain || feature_hash)[:16]. Two enrollments with
// different audio produce different salts even for the same passphrase.
func DeriveSalt(featureHash []byte) []byte {
	h := sha256.New()
	h.Write([]byte(saltDomain))
	h.Write(featureHash)
	return h.Sum(nil)[:16]
}

// derivePasswordKey runs Argon2id over the passphrase using the profile's
// fixed hardness parameters and the audio-bound salt.
func derivePasswordKey(passphrase string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.ArgonTime, p.ArgonMemoryKiB, p.ArgonParallelism, masterKeySize)
}

// deriveAudioKey stretches the feature hash into a 32-byte key via
// HKDF-SHA256, salted by the same audio-bound salt used for Argon2id so
// both legs of the mix are anchored to the same ritual.
func deriveAudioKey(featureHash, salt []byte) []byte {
	r := hkdf.New(sha256.New, featureHash, salt, []byte(audioInfo))
	out := make([]byte, masterKeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(echoerr.NewCryptoError("hkdf-audio", err))
	}
	return out
}

// weightMask returns a fixed 32-byte bit pattern whose set-bit fraction is
// the profile's audio weight w. The mask is derived once from a fixed
// domain string and a fixed per-bit ranking, so the SAME profile always
// yields the SAME mask regardless of input - this is the deterministic
// bit pattern spec §4.6 requires, not a per-call random choice.
func weightMask(w float64) []byte {
	totalBits := masterKeySize * 8
	setBits := int(w*float64(totalBits) + 0.5)

	type ranked struct {
		bit  int
		rank byte
	}
	ranks := make([]ranked, totalBits)
	for i := 0; i < totalBits; i++ {
		h := sha256.New()
		h.Write([]byte(maskDomain))
		h.Write([]byte{byte(i >> 8), byte(i)})
		sum := h.Sum(nil)
		ranks[i] = ranked{bit: i, rank: sum[0]}
	}
	// Stable selection sort over rank byte, tie-broken by bit index, keeps
	// the mask fully deterministic without relying on sort stability guarantees.
	for i := 0; i < totalBits-1; i++ {
		min := i
		for j := i + 1; j < totalBits; j++ {
			if ranks[j].rank < ranks[min].rank ||
				(ranks[j].rank == ranks[min].rank && ranks[j].bit < ranks[min].bit) {
				min = j
			}
		}
		ranks[i], ranks[min] = ranks[min], ranks[i]
	}

	mask := make([]byte, masterKeySize)
	for i := 0; i < setBits; i++ {
		bit := ranks[i].bit
		mask[bit/8] |= 1 << uint(7-bit%8)
	}
	return mask
}

// DeriveMasterKey implements AF-KDF: it folds a passphrase-derived key and
// an audio-derived key together under the profile's fixed weight, then
// hashes the fold down to the final 32-byte master key.
//
// Both legs are always computed, even when w is 0 (QuickLock) or 1
// (BlackVault) - this keeps the code path uniform across profiles and
// avoids a timing signal on which leg was skipped.
func DeriveMasterKey(passphrase string, featureHash []byte, profile Profile) []byte {
	p := ParamsFor(profile)
	salt := DeriveSalt(featureHash)

	kpw := derivePasswordKey(passphrase, salt, p)
	kaudio := deriveAudioKey(featureHash, salt)
	mask := weightMask(p.AudioWeight)

	fold := make([]byte, masterKeySize)
	for i := range fold {
		fold[i] = kpw[i] ^ (kaudio[i] & mask[i])
	}

	sum := sha256.Sum256(fold)
	return sum[:]
}

// TemporalBoundKey derives a key bound to the master key AND the ritual's
// temporal hash, used by RitualLock/BlackVault so a replayed imprint with
// a mismatched playback timeline yields a different key than the original.
func TemporalBoundKey(master, temporalHash []byte) []byte {
	info := append([]byte(tbkDomain), temporalHash...)
	r := hkdf.Expand(sha256.New, master, info)
	out := make([]byte, masterKeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(echoerr.NewCryptoError("hkdf-expand-tbk", err))
	}
	return out
}

// serpentKeyFor derives BlackVault's second-cascade-layer key from the
// master key. Kept separate from TemporalBoundKey so rotating one doesn't
// perturb the other.
func serpentKeyFor(master []byte) []byte {
	r := hkdf.Expand(sha256.New, master, []byte(serpentDomain))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(echoerr.NewCryptoError("hkdf-expand-serpent", err))
	}
	return out
}
