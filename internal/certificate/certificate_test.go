package certificate

import (
	"bytes"
	"path/filepath"
	"testing"

	"echotome/internal/afkdf"
	"echotome/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTracks() []RitualTrack {
	return []RitualTrack{
		{
			Kind: KindAudio,
			Audio: &AudioTrackData{
				FeatureHash: []byte{0x01, 0x02, 0x03},
				RegionStart: 10,
				RegionEnd:   50,
			},
		},
	}
}

// sampleMultiTracks returns two ordered audio tracks, T1 then T2, as a
// genuine multi-track ritual rather than the single-track degenerate case.
func sampleMultiTracks() []RitualTrack {
	return []RitualTrack{
		{
			Kind: KindAudio,
			Audio: &AudioTrackData{
				FeatureHash: []byte{0x01, 0x02, 0x03},
				RegionStart: 10,
				RegionEnd:   50,
			},
		},
		{
			Kind: KindAudio,
			Audio: &AudioTrackData{
				FeatureHash: []byte{0x11, 0x12, 0x13},
				RegionStart: 60,
				RegionEnd:   90,
			},
		},
	}
}

var sampleTemporalHash = bytes.Repeat([]byte{0x42}, 32)

func TestCreateVerifyRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	cert, err := Create(id, "ECH-ABCDEFGH", afkdf.RitualLock, sampleTracks(), sampleTemporalHash, 40)
	require.NoError(t, err)

	err = Verify(cert, nil)
	assert.NoError(t, err)
}

func TestCreateRejectsNoTracks(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	_, err = Create(id, "ECH-ABCDEFGH", afkdf.QuickLock, nil, sampleTemporalHash, 0)
	assert.Error(t, err)
}

func TestVerifyFailsOnTamperedSignature(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	cert, err := Create(id, "ECH-ABCDEFGH", afkdf.QuickLock, sampleTracks(), sampleTemporalHash, 40)
	require.NoError(t, err)
	cert.RuneID = "ECH-TAMPERED1"

	err = Verify(cert, nil)
	assert.Error(t, err)
}

func TestVerifyFailsOnWrongAudioHash(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	cert, err := Create(id, "ECH-ABCDEFGH", afkdf.QuickLock, sampleTracks(), sampleTemporalHash, 40)
	require.NoError(t, err)

	err = Verify(cert, map[int][]byte{0: {0xFF, 0xFF, 0xFF}})
	assert.Error(t, err)
}

func TestVerifySucceedsWithMatchingAudioHash(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	cert, err := Create(id, "ECH-ABCDEFGH", afkdf.QuickLock, sampleTracks(), sampleTemporalHash, 40)
	require.NoError(t, err)

	err = Verify(cert, map[int][]byte{0: {0x01, 0x02, 0x03}})
	assert.NoError(t, err)
}

func TestCreateVerifyMultiTrackRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	cert, err := Create(id, "ECH-ABCDEFGH", afkdf.RitualLock, sampleMultiTracks(), sampleTemporalHash, 70)
	require.NoError(t, err)
	require.Len(t, cert.Tracks, 2)

	err = Verify(cert, map[int][]byte{
		0: {0x01, 0x02, 0x03},
		1: {0x11, 0x12, 0x13},
	})
	assert.NoError(t, err)
}

func TestVerifyFailsOnWrongAudioHashAtSecondTrack(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	cert, err := Create(id, "ECH-ABCDEFGH", afkdf.RitualLock, sampleMultiTracks(), sampleTemporalHash, 70)
	require.NoError(t, err)

	err = Verify(cert, map[int][]byte{
		0: {0x01, 0x02, 0x03},
		1: {0xFF, 0xFF, 0xFF},
	})
	assert.Error(t, err)
}

func TestStoreLoadRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)

	cert, err := Create(id, "ECH-ABCDEFGH", afkdf.BlackVault, sampleTracks(), sampleTemporalHash, 40)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cert.json")
	require.NoError(t, Store(cert, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cert.RuneID, loaded.RuneID)
	assert.Equal(t, cert.Signature, loaded.Signature)
	assert.Equal(t, cert.TemporalHash, loaded.TemporalHash)
	assert.NoError(t, Verify(loaded, nil))
}
