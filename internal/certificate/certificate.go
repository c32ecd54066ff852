// Package certificate implements the Ritual Ownership Certificate (ROC):
// a signed, canonically-encoded record binding an owner's identity to
// the set of ritual tracks that unlock a vault.
package certificate

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"echotome/internal/afkdf"
	echoerr "echotome/internal/errors"
	"echotome/internal/identity"
)

// b64url wraps a byte slice so it marshals as unpadded base64url rather
// than encoding/json's default padded standard base64 - the canonical
// encoding every byte field in a certificate uses.
type b64url []byte

func (b b64url) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.RawURLEncoding.EncodeToString(b))
}

func (b *b64url) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// TrackKind discriminates the sum type RitualTrack carries: a track is
// EITHER an audio ritual track OR a marker track, never both. Exactly
// one of the Audio/Marker payload pointers on a RitualTrack is non-nil,
// matching Kind.
type TrackKind string

const (
	// KindAudio is a full audio-derived ritual track (feature + temporal
	// hash pair, plus the active region it was detected from).
	KindAudio TrackKind = "audio"
	// KindMarker is a lightweight named checkpoint with no audio payload,
	// e.g. a manually recorded milestone in a multi-track vault.
	KindMarker TrackKind = "marker"
)

// AudioTrackData is the payload for a KindAudio track. The temporal
// binding of a ritual spans its whole ordered track sequence rather than
// any one track, so it lives on RitualCertificate.TemporalHash, not here.
type AudioTrackData struct {
	FeatureHash   b64url `json:"feature_hash"`
	RegionStart   int    `json:"region_start"`
	RegionEnd     int    `json:"region_end"`
	ElapsedMillis int64  `json:"elapsed_ms"` // wall-clock duration of the enrolled active region
}

// MarkerTrackData is the payload for a KindMarker track.
type MarkerTrackData struct {
	Label string `json:"label"`
}

// RitualTrack is a sum type over the kinds of track a ritual certificate
// can reference. Exactly one of Audio/Marker is populated, selected by
// Kind - callers must switch on Kind rather than nil-checking both.
type RitualTrack struct {
	Kind   TrackKind        `json:"kind"`
	Audio  *AudioTrackData  `json:"audio,omitempty"`
	Marker *MarkerTrackData `json:"marker,omitempty"`
}

// RecoveryConfig is an optional, currently-unused extension point for a
// future social/escrow recovery scheme. A typed nil here means "no
// recovery configured" without requiring a schema migration to add one
// later - existing certificates keep verifying unchanged once it's used.
type RecoveryConfig struct {
	Threshold int      `json:"threshold"`
	Shares    [][]byte `json:"shares"`
}

// RitualCertificate is the signed record of a vault's ownership and the
// ritual tracks that unlock it. Tracks is ordered: a single-track
// certificate is the degenerate case of a general multi-track ritual,
// and TemporalHash/TrackFrameCount bind the order and timing of the
// whole sequence, not any individual track.
type RitualCertificate struct {
	RuneID          string          `json:"rune_id"`
	OwnerPub        b64url          `json:"owner_pub"`
	Profile         string          `json:"profile"`
	Tracks          []RitualTrack   `json:"tracks"`
	TemporalHash    b64url          `json:"temporal_hash"`
	TrackFrameCount int             `json:"track_frame_count"`
	Version         string          `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	Recovery        *RecoveryConfig `json:"recovery,omitempty"`
	Signature       b64url          `json:"signature"`
}

// CertificateVersion is stamped into every certificate this package
// creates, so a future format change can reject or migrate older ones.
const CertificateVersion = "roc-v1"

// canonicalPayload returns the certificate's signable bytes: canonical
// JSON (sorted keys, no insignificant whitespace) of every field EXCEPT
// Signature. Re-encoding with encoding/json's default map key ordering
// isn't enough since struct fields aren't maps, so we marshal into an
// ordered map explicitly.
func canonicalPayload(c *RitualCertificate) ([]byte, error) {
	unsigned := *c
	unsigned.Signature = nil

	raw, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, err
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	delete(generic, "signature")

	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(generic[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Create builds and signs a new ritual certificate for runeID/profile
// binding owner to tracks, played back in order under a single temporal
// hash spanning trackFrameCount frames across the whole sequence.
func Create(id *identity.Identity, runeID string, profile afkdf.Profile, tracks []RitualTrack, temporalHash []byte, trackFrameCount int) (*RitualCertificate, error) {
	if len(tracks) == 0 {
		return nil, echoerr.ErrNoTracks
	}

	cert := &RitualCertificate{
		RuneID:          runeID,
		OwnerPub:        b64url(id.Public),
		Profile:         profile.String(),
		Tracks:          tracks,
		TemporalHash:    temporalHash,
		TrackFrameCount: trackFrameCount,
		Version:         CertificateVersion,
		CreatedAt:       time.Now().UTC(),
	}

	payload, err := canonicalPayload(cert)
	if err != nil {
		return nil, echoerr.NewCertificateError("encode", err)
	}
	cert.Signature = id.Sign(payload)
	return cert, nil
}

// Verify checks a certificate's signature and, for every audio track,
// that the supplied recomputed feature hashes still match what was
// signed. recomputedFeatureHashes is keyed by track index; a missing
// entry skips re-verification of that track's audio hash (used when the
// caller only has one live recording to compare against one track).
func Verify(cert *RitualCertificate, recomputedFeatureHashes map[int][]byte) error {
	if cert.Version != CertificateVersion {
		return echoerr.NewCertificateError("version", fmt.Errorf("unsupported certificate version %q", cert.Version))
	}
	if len(cert.OwnerPub) != ed25519.PublicKeySize {
		return echoerr.NewCertificateError("owner", fmt.Errorf("malformed owner public key"))
	}

	payload, err := canonicalPayload(cert)
	if err != nil {
		return echoerr.NewCertificateError("encode", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(cert.OwnerPub), payload, cert.Signature) {
		return echoerr.NewCertificateError("signature", fmt.Errorf("ed25519 verification failed"))
	}

	for idx, want := range recomputedFeatureHashes {
		if idx < 0 || idx >= len(cert.Tracks) {
			return echoerr.NewCertificateError("audio-hash", fmt.Errorf("track index %d out of range", idx))
		}
		track := cert.Tracks[idx]
		if track.Kind != KindAudio || track.Audio == nil {
			return echoerr.NewCertificateError("audio-hash", fmt.Errorf("track %d is not an audio track", idx))
		}
		if !bytes.Equal(track.Audio.FeatureHash, want) {
			return echoerr.NewCertificateError("audio-hash", fmt.Errorf("track %d feature hash mismatch", idx))
		}
	}
	return nil
}

// Store atomically writes a certificate to path as canonical JSON.
func Store(cert *RitualCertificate, path string) error {
	payload, err := canonicalPayload(cert)
	if err != nil {
		return echoerr.NewCertificateError("encode", err)
	}
	full := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &full); err != nil {
		return echoerr.NewCertificateError("encode", err)
	}
	sigJSON, err := json.Marshal(cert.Signature)
	if err != nil {
		return echoerr.NewCertificateError("encode", err)
	}
	full["signature"] = sigJSON

	keys := make([]string, 0, len(full))
	for k := range full {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(full[k])
	}
	buf.WriteByte('}')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".certificate-*.tmp")
	if err != nil {
		return echoerr.NewFileError("create-temp", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return echoerr.NewFileError("write", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return echoerr.NewFileError("fsync", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return echoerr.NewFileError("close", tmpPath, err)
	}
	return echoerr.Wrap(os.Rename(tmpPath, path), "rename certificate into place")
}

// Load reads a certificate previously written by Store. It does not
// verify the signature - call Verify separately.
func Load(path string) (*RitualCertificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, echoerr.NewFileError("read", path, err)
	}
	var cert RitualCertificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, echoerr.NewCertificateError("encode", err)
	}
	return &cert, nil
}
