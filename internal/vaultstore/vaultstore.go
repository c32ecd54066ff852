// Package vaultstore implements Echotome's enrollment and unlock
// pipelines: it wires audio features, active-region detection, the
// temporal salt chain, the ritual imprint vector, AF-KDF/AEAD, ritual
// certificates, steganography, and session management together into
// the two end-to-end operations a vault actually exposes.
package vaultstore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"echotome/internal/afkdf"
	"echotome/internal/audio"
	"echotome/internal/certificate"
	echoerr "echotome/internal/errors"
	"echotome/internal/identity"
	"echotome/internal/log"
	"echotome/internal/region"
	"echotome/internal/riv"
	"echotome/internal/secure"
	"echotome/internal/session"
	"echotome/internal/stego"
	"echotome/internal/tsc"
)

// ProgressReporter receives progress updates during enrollment and
// unlocking. The CLI's terminal reporter and any future UI both satisfy
// this by implementing the same small method set.
type ProgressReporter interface {
	SetStatus(text string)
	SetProgress(fraction float32, info string)
	SetCanCancel(can bool)
	Update()
	IsCancelled() bool
}

// nullReporter discards all progress updates, used when a caller
// doesn't care to observe them.
type nullReporter struct{}

func (nullReporter) SetStatus(string)             {}
func (nullReporter) SetProgress(float32, string)  {}
func (nullReporter) SetCanCancel(bool)             {}
func (nullReporter) Update()                       {}
func (nullReporter) IsCancelled() bool             { return false }

// BlobRef points at one encrypted payload stored alongside a vault.
type BlobRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Meta is a vault's on-disk metadata record: everything needed to
// locate its certificate and encrypted blobs, but none of its secrets.
type Meta struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Profile        string    `json:"profile"`
	RuneID         string    `json:"rune_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CertificatePath string   `json:"certificate_path"`
	EncryptedBlobs []BlobRef `json:"encrypted_blobs"`
}

// metaPath returns the vault metadata file path within dataRoot.
func metaPath(dataRoot, id string) string {
	return filepath.Join(dataRoot, "vaults", id, "meta.json")
}

func vaultDir(dataRoot, id string) string {
	return filepath.Join(dataRoot, "vaults", id)
}

// StoreMeta atomically writes vault metadata.
func StoreMeta(dataRoot string, m *Meta) error {
	dir := vaultDir(dataRoot, m.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return echoerr.NewFileError("mkdir", dir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return echoerr.NewFileError("marshal", dir, err)
	}

	path := metaPath(dataRoot, m.ID)
	tmp, err := os.CreateTemp(dir, ".meta-*.tmp")
	if err != nil {
		return echoerr.NewFileError("create-temp", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
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
	return echoerr.Wrap(os.Rename(tmpPath, path), "rename vault metadata into place")
}

// LoadMeta reads a vault's metadata record.
func LoadMeta(dataRoot, id string) (*Meta, error) {
	data, err := os.ReadFile(metaPath(dataRoot, id))
	if err != nil {
		return nil, echoerr.NewFileError("read", metaPath(dataRoot, id), err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, echoerr.NewFileError("unmarshal", metaPath(dataRoot, id), err)
	}
	return &m, nil
}

// frameBytes slices samples into the same FrameSize/HopSize framing
// audio.Extract uses, encoding each frame as little-endian float32
// bytes so the temporal salt chain sees the exact same per-frame
// content that feature extraction analyzed.
func frameBytes(samples []float64, r region.Region) [][]byte {
	frames := make([][]byte, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		start := i * audio.HopSize
		end := start + audio.FrameSize
		if end > len(samples) {
			break
		}
		buf := make([]byte, audio.FrameSize*4)
		for j, s := range samples[start:end] {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(float32(s)))
		}
		frames = append(frames, buf)
	}
	return frames
}

// frameTimestamps returns the start time, in milliseconds from offsetMs,
// of each of n consecutive hop-spaced frames at sampleRate. offsetMs lets
// a track's frames continue the timeline of whatever tracks preceded it
// in a multi-track ritual, rather than each track restarting at zero.
func frameTimestamps(n, sampleRate int, offsetMs uint64) []uint64 {
	ts := make([]uint64, n)
	for i := 0; i < n; i++ {
		ts[i] = offsetMs + uint64(i)*uint64(audio.HopSize)*1000/uint64(sampleRate)
	}
	return ts
}

// trackDurationMs returns how much timeline n hop-spaced frames span, in
// milliseconds, used to advance the offset passed to the next track's
// frameTimestamps call.
func trackDurationMs(n, sampleRate int) uint64 {
	return uint64(n) * uint64(audio.HopSize) * 1000 / uint64(sampleRate)
}

// mergeFeatures concatenates a sequence of tracks' feature series into
// one synthetic Features, in order, so a multi-track ritual gets a
// single coarse spectral/rhythm signature spanning its whole
// performance rather than just its first track. All tracks are assumed
// to share the same sample rate and hop size, which audio.Extract always
// produces for a given input sample rate.
func mergeFeatures(all []*audio.Features) *audio.Features {
	merged := &audio.Features{SampleRate: all[0].SampleRate, HopSize: all[0].HopSize}
	for _, f := range all {
		merged.RMS = append(merged.RMS, f.RMS...)
		merged.SpectralCentroid = append(merged.SpectralCentroid, f.SpectralCentroid...)
		merged.SpectralFlux = append(merged.SpectralFlux, f.SpectralFlux...)
		merged.SpectralMap = append(merged.SpectralMap, f.SpectralMap...)
	}
	return merged
}

// combinedFeatureHash folds an ordered sequence of per-track feature
// hashes into one hash that changes if any track's content or order
// changes, used as the AF-KDF salt for a multi-track ritual.
func combinedFeatureHash(hashes [][]byte) []byte {
	h := sha256.New()
	h.Write([]byte("echotome-multitrack-feature-hash-v1"))
	for _, hash := range hashes {
		h.Write(hash)
	}
	return h.Sum(nil)
}

// TrackCapture is one recorded ritual track: its samples, sample rate,
// and how long its capture took.
type TrackCapture struct {
	Samples    []float64
	SampleRate int
	Elapsed    time.Duration
}

// trackAnalysis holds everything derived from analyzing one track's
// capture, shared between enrollment and unlock's per-track pipeline.
type trackAnalysis struct {
	features *audio.Features
	region   region.Region
	frames   [][]byte
}

// analyzeTracks runs feature extraction and active-region detection over
// each track in order, also returning the combined (concatenated) frame
// sequence and per-frame timestamps used to build one temporal chain
// spanning the whole ritual.
func analyzeTracks(tracks []TrackCapture) ([]trackAnalysis, [][]byte, []uint64, error) {
	analyses := make([]trackAnalysis, 0, len(tracks))
	var allFrames [][]byte
	var allTimestamps []uint64
	var offsetMs uint64

	for _, t := range tracks {
		features, err := audio.Extract(t.Samples, t.SampleRate)
		if err != nil {
			return nil, nil, nil, err
		}
		activeRegion, err := region.Detect(features)
		if err != nil {
			return nil, nil, nil, err
		}
		frames := frameBytes(t.Samples, activeRegion)

		analyses = append(analyses, trackAnalysis{features: features, region: activeRegion, frames: frames})
		allFrames = append(allFrames, frames...)
		allTimestamps = append(allTimestamps, frameTimestamps(len(frames), t.SampleRate, offsetMs)...)
		offsetMs += trackDurationMs(len(frames), t.SampleRate)
	}
	return analyses, allFrames, allTimestamps, nil
}

// EnrollRequest carries everything needed to create a new vault. Tracks
// is an ordered list of ritual recordings; a single-element list is the
// degenerate case of an ordinary single-track ritual.
type EnrollRequest struct {
	VaultID    string
	Name       string
	Profile    afkdf.Profile
	Passphrase string
	Tracks     []TrackCapture // ordered ritual recordings, mono PCM
	Plaintext  []byte         // payload to encrypt and store
	CoverImage image.Image    // optional steganographic carrier for the certificate
	Reporter   ProgressReporter
}

// EnrollResult is returned on successful enrollment.
type EnrollResult struct {
	Meta        *Meta
	Certificate *certificate.RitualCertificate
}

// Enroll runs the full enrollment pipeline: extract audio features,
// detect the active region, build the temporal salt chain, derive an
// AF-KDF master key, seal the plaintext under it, sign a ritual
// certificate, and persist everything under dataRoot.
func Enroll(dataRoot string, id *identity.Identity, req *EnrollRequest) (*EnrollResult, error) {
	reporter := req.Reporter
	if reporter == nil {
		reporter = nullReporter{}
	}
	if req.Passphrase == "" {
		return nil, echoerr.ErrEmptyPassphrase
	}
	if len(req.Tracks) == 0 {
		return nil, echoerr.ErrNoTracks
	}

	reporter.SetStatus("analyzing ritual recording")
	reporter.Update()
	analyses, allFrames, allTimestamps, err := analyzeTracks(req.Tracks)
	if err != nil {
		return nil, err
	}
	if reporter.IsCancelled() {
		return nil, echoerr.ErrCancelled
	}

	reporter.SetStatus("binding temporal salt chain")
	reporter.Update()
	temporalHash, err := tsc.TSC(allFrames, allTimestamps, id.Public, len(allFrames))
	if err != nil {
		return nil, err
	}

	allFeatures := make([]*audio.Features, len(analyses))
	featureHashes := make([][]byte, len(analyses))
	for i, a := range analyses {
		allFeatures[i] = a.features
		featureHashes[i] = a.features.Hash
	}
	combinedHash := combinedFeatureHash(featureHashes)
	imprint := riv.Compute(combinedHash, temporalHash, mergeFeatures(allFeatures))

	reporter.SetStatus("deriving AF-KDF master key")
	reporter.SetProgress(0.5, "")
	reporter.Update()
	master := afkdf.DeriveMasterKey(req.Passphrase, combinedHash, req.Profile)
	runeID := afkdf.RuneID(master)

	sealKey := master
	params := afkdf.ParamsFor(req.Profile)
	rk := &secure.RitualKeyMaterial{Master: master}
	if params.TimingEnforced {
		sealKey = afkdf.TemporalBoundKey(master, temporalHash)
		rk.TemporalKey = sealKey
	}
	defer rk.Close()

	env, err := afkdf.Seal(sealKey, master, req.Profile, afkdf.AlgoXChaCha20Poly1305, imprint, req.Plaintext)
	if err != nil {
		return nil, err
	}

	dir := vaultDir(dataRoot, req.VaultID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, echoerr.NewFileError("mkdir", dir, err)
	}

	blobPath := filepath.Join(dir, "blob.echo")
	if err := os.WriteFile(blobPath, env.Marshal(), 0o600); err != nil {
		return nil, echoerr.NewFileError("write", blobPath, err)
	}

	reporter.SetStatus("signing ritual certificate")
	reporter.SetProgress(0.8, "")
	reporter.Update()

	tracks := make([]certificate.RitualTrack, len(analyses))
	for i, a := range analyses {
		tracks[i] = certificate.RitualTrack{
			Kind: certificate.KindAudio,
			Audio: &certificate.AudioTrackData{
				FeatureHash:   a.features.Hash,
				RegionStart:   a.region.Start,
				RegionEnd:     a.region.End,
				ElapsedMillis: req.Tracks[i].Elapsed.Milliseconds(),
			},
		}
	}
	cert, err := certificate.Create(id, runeID, req.Profile, tracks, temporalHash, len(allFrames))
	if err != nil {
		return nil, err
	}

	certPath, err := persistCertificate(dir, cert, req.CoverImage)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta := &Meta{
		ID:              req.VaultID,
		Name:            req.Name,
		Profile:         req.Profile.String(),
		RuneID:          runeID,
		CreatedAt:       now,
		UpdatedAt:       now,
		CertificatePath: certPath,
		EncryptedBlobs:  []BlobRef{{Name: "blob", Path: blobPath, Size: int64(len(env.Marshal()))}},
	}
	if err := StoreMeta(dataRoot, meta); err != nil {
		return nil, err
	}

	reporter.SetProgress(1.0, "")
	reporter.Update()
	log.Info("vault enrolled", log.String("vault_id", req.VaultID), log.String("rune_id", runeID), log.String("profile", req.Profile.String()))

	return &EnrollResult{Meta: meta, Certificate: cert}, nil
}

// persistCertificate writes cert to disk, embedding it in cover via LSB
// steganography when a cover image is supplied, or as plain canonical
// JSON otherwise.
func persistCertificate(dir string, cert *certificate.RitualCertificate, cover image.Image) (string, error) {
	if cover == nil {
		path := filepath.Join(dir, "certificate.json")
		return path, certificate.Store(cert, path)
	}

	payload, err := json.Marshal(cert)
	if err != nil {
		return "", echoerr.NewCertificateError("encode", err)
	}
	embedded, err := stego.Embed(cover, payload)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "certificate.png")
	f, err := os.Create(path)
	if err != nil {
		return "", echoerr.NewFileError("create", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, embedded); err != nil {
		return "", echoerr.NewFileError("encode-png", path, err)
	}
	return path, nil
}

func loadCertificate(path string) (*certificate.RitualCertificate, error) {
	switch filepath.Ext(path) {
	case ".png":
		f, err := os.Open(path)
		if err != nil {
			return nil, echoerr.NewFileError("open", path, err)
		}
		defer f.Close()
		img, err := png.Decode(f)
		if err != nil {
			return nil, echoerr.NewFileError("decode-png", path, err)
		}
		payload, err := stego.Extract(img)
		if err != nil {
			return nil, err
		}
		var cert certificate.RitualCertificate
		if err := json.Unmarshal(payload, &cert); err != nil {
			return nil, echoerr.NewCertificateError("encode", err)
		}
		return &cert, nil
	default:
		return certificate.Load(path)
	}
}

// UnlockRequest carries an ordered sequence of live ritual recordings and
// the vault to open. Tracks must be supplied in the same order they were
// enrolled in; replaying them out of order changes the recomputed
// temporal hash and fails with ErrTemporalMismatch even if every
// individual track's audio content matches one of the enrolled tracks.
type UnlockRequest struct {
	VaultID    string
	Passphrase string
	Tracks     []TrackCapture
	SessionDir string // working directory to decrypt blobs into
	Reporter   ProgressReporter
}

// UnlockResult is returned on a successful unlock.
type UnlockResult struct {
	Session *session.Session
	RuneID  string
}

// Unlock runs the unlock pipeline: load and verify the vault's ritual
// certificate, re-derive the AF-KDF master key from a live recording,
// verify temporal consistency against the enrolled chain, decrypt the
// vault's blobs into sessionDir, and open a tracked session over it.
func Unlock(dataRoot string, mgr *session.Manager, req *UnlockRequest) (*UnlockResult, error) {
	reporter := req.Reporter
	if reporter == nil {
		reporter = nullReporter{}
	}
	if req.Passphrase == "" {
		return nil, echoerr.ErrEmptyPassphrase
	}
	if len(req.Tracks) == 0 {
		return nil, echoerr.ErrNoTracks
	}

	meta, err := LoadMeta(dataRoot, req.VaultID)
	if err != nil {
		return nil, err
	}
	profile, ok := profileByName(meta.Profile)
	if !ok {
		return nil, fmt.Errorf("vaultstore: unknown profile %q in vault metadata", meta.Profile)
	}

	reporter.SetStatus("loading ritual certificate")
	reporter.Update()
	cert, err := loadCertificate(meta.CertificatePath)
	if err != nil {
		return nil, err
	}
	if err := certificate.Verify(cert, nil); err != nil {
		return nil, err
	}
	if len(cert.Tracks) != len(req.Tracks) {
		return nil, echoerr.NewCertificateError("track-count",
			fmt.Errorf("certificate has %d tracks, %d were supplied", len(cert.Tracks), len(req.Tracks)))
	}
	for i, track := range cert.Tracks {
		if track.Kind != certificate.KindAudio || track.Audio == nil {
			return nil, echoerr.NewCertificateError("audio-hash", fmt.Errorf("track %d is not an audio track", i))
		}
	}

	reporter.SetStatus("analyzing live ritual recording")
	reporter.Update()
	analyses, allFrames, allTimestamps, err := analyzeTracks(req.Tracks)
	if err != nil {
		return nil, err
	}

	reporter.SetStatus("verifying temporal consistency")
	reporter.Update()
	var enrolledElapsedMs, liveElapsedMs int64
	for i, track := range cert.Tracks {
		enrolledElapsedMs += track.Audio.ElapsedMillis
		liveElapsedMs += req.Tracks[i].Elapsed.Milliseconds()
	}
	enrolledElapsed := time.Duration(enrolledElapsedMs) * time.Millisecond
	liveElapsed := time.Duration(liveElapsedMs) * time.Millisecond
	if err := tsc.VerifyTemporalConsistency(allFrames, allTimestamps, cert.OwnerPub, cert.TrackFrameCount, cert.TemporalHash, enrolledElapsed, liveElapsed); err != nil {
		return nil, err
	}

	allFeatures := make([]*audio.Features, len(analyses))
	featureHashes := make([][]byte, len(analyses))
	recomputed := make(map[int][]byte, len(analyses))
	for i, a := range analyses {
		allFeatures[i] = a.features
		featureHashes[i] = a.features.Hash
		recomputed[i] = a.features.Hash
	}
	if err := certificate.Verify(cert, recomputed); err != nil {
		return nil, err
	}
	combinedHash := combinedFeatureHash(featureHashes)

	imprint := riv.Compute(combinedHash, cert.TemporalHash, mergeFeatures(allFeatures))

	reporter.SetStatus("deriving AF-KDF master key")
	reporter.Update()
	master := afkdf.DeriveMasterKey(req.Passphrase, combinedHash, profile)
	runeID := afkdf.RuneID(master)

	openKey := master
	params := afkdf.ParamsFor(profile)
	rk := &secure.RitualKeyMaterial{Master: master}
	if params.TimingEnforced {
		openKey = afkdf.TemporalBoundKey(master, cert.TemporalHash)
		rk.TemporalKey = openKey
	}
	defer rk.Close()

	if err := os.MkdirAll(req.SessionDir, 0o700); err != nil {
		return nil, echoerr.NewFileError("mkdir", req.SessionDir, err)
	}

	for _, blob := range meta.EncryptedBlobs {
		data, err := os.ReadFile(blob.Path)
		if err != nil {
			return nil, echoerr.NewFileError("read", blob.Path, err)
		}
		env, err := afkdf.UnmarshalEnvelope(data)
		if err != nil {
			return nil, err
		}
		if _, err := compareAD(env.AD, imprint); err != nil {
			return nil, err
		}
		plain, err := afkdf.Open(openKey, master, env)
		if err != nil {
			return nil, err
		}
		outPath := filepath.Join(req.SessionDir, blob.Name)
		if err := os.WriteFile(outPath, plain, 0o600); err != nil {
			return nil, echoerr.NewFileError("write", outPath, err)
		}
	}

	reporter.SetStatus("opening session")
	reporter.SetProgress(1.0, "")
	reporter.Update()

	sess, err := mgr.Open(req.VaultID, profile, req.SessionDir)
	if err != nil {
		return nil, err
	}

	log.Info("vault unlocked", log.String("vault_id", req.VaultID), log.String("rune_id", runeID))
	return &UnlockResult{Session: sess, RuneID: runeID}, nil
}

// compareAD checks, before a blob is opened, that its stored associated
// data matches the ritual imprint vector recomputed from the live
// recording; a mismatch means the AEAD open would have failed anyway, so
// it returns ErrAEADFailure without attempting the open.
func compareAD(stored, live []byte) (bool, error) {
	if len(stored) != len(live) {
		return false, echoerr.ErrAEADFailure
	}
	for i := range stored {
		if stored[i] != live[i] {
			return false, echoerr.ErrAEADFailure
		}
	}
	return true, nil
}

func profileByName(name string) (afkdf.Profile, bool) {
	switch name {
	case afkdf.QuickLock.String():
		return afkdf.QuickLock, true
	case afkdf.RitualLock.String():
		return afkdf.RitualLock, true
	case afkdf.BlackVault.String():
		return afkdf.BlackVault, true
	default:
		return 0, false
	}
}
