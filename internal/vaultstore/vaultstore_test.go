package vaultstore

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echotome/internal/afkdf"
	echoerr "echotome/internal/errors"
	"echotome/internal/identity"
	"echotome/internal/session"
)

// ritualSamples synthesizes a recording with a silent lead-in, an
// active tone in the middle, and a silent tail - enough structure for
// region.Detect to find a single active run.
func ritualSamples(sampleRate int, seconds float64, freq float64) []float64 {
	total := int(float64(sampleRate) * seconds)
	out := make([]float64, total)
	activeStart := total / 4
	activeEnd := total - total/4
	for i := activeStart; i < activeEnd; i++ {
		out[i] = 0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

func oneTrack(samples []float64, elapsed time.Duration) []TrackCapture {
	return []TrackCapture{{Samples: samples, SampleRate: 44100, Elapsed: elapsed}}
}

func TestEnrollUnlockRoundTripQuickLock(t *testing.T) {
	dataRoot := t.TempDir()
	id := newTestIdentity(t)
	samples := ritualSamples(44100, 3.0, 220.0)

	enrollResult, err := Enroll(dataRoot, id, &EnrollRequest{
		VaultID:    "vault-1",
		Name:       "test vault",
		Profile:    afkdf.QuickLock,
		Passphrase: "correct horse battery staple",
		Tracks:     oneTrack(samples, 3*time.Second),
		Plaintext:  []byte("hello ritual world"),
	})
	require.NoError(t, err)
	require.NotNil(t, enrollResult)
	assert.Equal(t, "vault-1", enrollResult.Meta.ID)
	assert.NotEmpty(t, enrollResult.Meta.RuneID)

	mgr := session.NewManager(time.Hour)
	t.Cleanup(mgr.Stop)

	sessionDir := filepath.Join(t.TempDir(), "unlocked")
	unlockResult, err := Unlock(dataRoot, mgr, &UnlockRequest{
		VaultID:    "vault-1",
		Passphrase: "correct horse battery staple",
		Tracks:     oneTrack(samples, 3*time.Second),
		SessionDir: sessionDir,
	})
	require.NoError(t, err)
	require.NotNil(t, unlockResult)
	assert.Equal(t, enrollResult.Meta.RuneID, unlockResult.RuneID)

	plain, err := os.ReadFile(filepath.Join(sessionDir, "blob"))
	require.NoError(t, err)
	assert.Equal(t, "hello ritual world", string(plain))
}

func TestEnrollUnlockRoundTripRitualLock(t *testing.T) {
	dataRoot := t.TempDir()
	id := newTestIdentity(t)
	samples := ritualSamples(44100, 3.0, 330.0)

	_, err := Enroll(dataRoot, id, &EnrollRequest{
		VaultID:    "vault-ritual",
		Profile:    afkdf.RitualLock,
		Passphrase: "ritual passphrase",
		Tracks:     oneTrack(samples, 3*time.Second),
		Plaintext:  []byte("ritual locked secret"),
	})
	require.NoError(t, err)

	mgr := session.NewManager(time.Hour)
	t.Cleanup(mgr.Stop)

	sessionDir := filepath.Join(t.TempDir(), "unlocked")
	result, err := Unlock(dataRoot, mgr, &UnlockRequest{
		VaultID:    "vault-ritual",
		Passphrase: "ritual passphrase",
		Tracks:     oneTrack(samples, 3*time.Second),
		SessionDir: sessionDir,
	})
	require.NoError(t, err)
	assert.Equal(t, afkdf.RitualLock, result.Session.Profile)
}

func TestUnlockFailsWithWrongPassphrase(t *testing.T) {
	dataRoot := t.TempDir()
	id := newTestIdentity(t)
	samples := ritualSamples(44100, 3.0, 220.0)

	_, err := Enroll(dataRoot, id, &EnrollRequest{
		VaultID:    "vault-2",
		Profile:    afkdf.QuickLock,
		Passphrase: "right passphrase",
		Tracks:     oneTrack(samples, 3*time.Second),
		Plaintext:  []byte("secret"),
	})
	require.NoError(t, err)

	mgr := session.NewManager(time.Hour)
	t.Cleanup(mgr.Stop)

	_, err = Unlock(dataRoot, mgr, &UnlockRequest{
		VaultID:    "vault-2",
		Passphrase: "wrong passphrase",
		Tracks:     oneTrack(samples, 3*time.Second),
		SessionDir: filepath.Join(t.TempDir(), "unlocked"),
	})
	assert.Error(t, err)
}

func TestUnlockFailsWithDifferentRecording(t *testing.T) {
	dataRoot := t.TempDir()
	id := newTestIdentity(t)
	samples := ritualSamples(44100, 3.0, 220.0)

	_, err := Enroll(dataRoot, id, &EnrollRequest{
		VaultID:    "vault-3",
		Profile:    afkdf.RitualLock,
		Passphrase: "same passphrase",
		Tracks:     oneTrack(samples, 3*time.Second),
		Plaintext:  []byte("secret"),
	})
	require.NoError(t, err)

	mgr := session.NewManager(time.Hour)
	t.Cleanup(mgr.Stop)

	otherSamples := ritualSamples(44100, 3.0, 880.0)
	_, err = Unlock(dataRoot, mgr, &UnlockRequest{
		VaultID:    "vault-3",
		Passphrase: "same passphrase",
		Tracks:     oneTrack(otherSamples, 3*time.Second),
		SessionDir: filepath.Join(t.TempDir(), "unlocked"),
	})
	assert.Error(t, err)
}

func TestEnrollRejectsEmptyPassphrase(t *testing.T) {
	dataRoot := t.TempDir()
	id := newTestIdentity(t)
	samples := ritualSamples(44100, 3.0, 220.0)

	_, err := Enroll(dataRoot, id, &EnrollRequest{
		VaultID:    "vault-4",
		Profile:    afkdf.QuickLock,
		Passphrase: "",
		Tracks:     oneTrack(samples, 3*time.Second),
		Plaintext:  []byte("secret"),
	})
	assert.Error(t, err)
}

func TestEnrollRejectsNoTracks(t *testing.T) {
	dataRoot := t.TempDir()
	id := newTestIdentity(t)

	_, err := Enroll(dataRoot, id, &EnrollRequest{
		VaultID:    "vault-no-tracks",
		Profile:    afkdf.QuickLock,
		Passphrase: "a passphrase",
		Plaintext:  []byte("secret"),
	})
	assert.Error(t, err)
}

// TestMultiTrackUnlockRequiresEnrolledOrder exercises a two-track ritual:
// enrollment binds T1 then T2 in that order, replaying [T1, T2] succeeds,
// and replaying [T2, T1] fails with a temporal mismatch even though both
// recordings individually match tracks the vault knows about.
func TestMultiTrackUnlockRequiresEnrolledOrder(t *testing.T) {
	dataRoot := t.TempDir()
	id := newTestIdentity(t)
	t1 := ritualSamples(44100, 3.0, 220.0)
	t2 := ritualSamples(44100, 3.0, 440.0)

	enrollResult, err := Enroll(dataRoot, id, &EnrollRequest{
		VaultID:    "vault-multitrack",
		Profile:    afkdf.RitualLock,
		Passphrase: "two track passphrase",
		Tracks: []TrackCapture{
			{Samples: t1, SampleRate: 44100, Elapsed: 3 * time.Second},
			{Samples: t2, SampleRate: 44100, Elapsed: 3 * time.Second},
		},
		Plaintext: []byte("multi-track secret"),
	})
	require.NoError(t, err)
	require.Len(t, enrollResult.Certificate.Tracks, 2)

	mgr := session.NewManager(time.Hour)
	t.Cleanup(mgr.Stop)

	inOrder, err := Unlock(dataRoot, mgr, &UnlockRequest{
		VaultID:    "vault-multitrack",
		Passphrase: "two track passphrase",
		Tracks: []TrackCapture{
			{Samples: t1, SampleRate: 44100, Elapsed: 3 * time.Second},
			{Samples: t2, SampleRate: 44100, Elapsed: 3 * time.Second},
		},
		SessionDir: filepath.Join(t.TempDir(), "unlocked-in-order"),
	})
	require.NoError(t, err)
	assert.Equal(t, enrollResult.Meta.RuneID, inOrder.RuneID)

	mgr2 := session.NewManager(time.Hour)
	t.Cleanup(mgr2.Stop)

	_, err = Unlock(dataRoot, mgr2, &UnlockRequest{
		VaultID:    "vault-multitrack",
		Passphrase: "two track passphrase",
		Tracks: []TrackCapture{
			{Samples: t2, SampleRate: 44100, Elapsed: 3 * time.Second},
			{Samples: t1, SampleRate: 44100, Elapsed: 3 * time.Second},
		},
		SessionDir: filepath.Join(t.TempDir(), "unlocked-wrong-order"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, echoerr.ErrTemporalMismatch)
}

func TestStoreLoadMetaRoundTrip(t *testing.T) {
	dataRoot := t.TempDir()
	m := &Meta{
		ID:              "vault-meta",
		Name:            "meta test",
		Profile:         afkdf.BlackVault.String(),
		RuneID:          "ECH-ABCDE",
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
		UpdatedAt:       time.Now().UTC().Truncate(time.Second),
		CertificatePath: "certificate.json",
		EncryptedBlobs:  []BlobRef{{Name: "blob", Path: "blob.echo", Size: 123}},
	}
	require.NoError(t, StoreMeta(dataRoot, m))

	loaded, err := LoadMeta(dataRoot, "vault-meta")
	require.NoError(t, err)
	assert.Equal(t, m.RuneID, loaded.RuneID)
	assert.Equal(t, m.Profile, loaded.Profile)
	assert.Len(t, loaded.EncryptedBlobs, 1)
}
