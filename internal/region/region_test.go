package region

import (
	"testing"

	"echotome/internal/audio"
	echoerr "echotome/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatFeatures(rms, flux, centroid []float64) *audio.Features {
	return &audio.Features{
		RMS:              rms,
		SpectralFlux:     flux,
		SpectralCentroid: centroid,
		SampleRate:       44100,
		HopSize:          1024,
	}
}

func TestDetectFindsActiveRun(t *testing.T) {
	n := 40
	rms := make([]float64, n)
	flux := make([]float64, n)
	centroid := make([]float64, n)
	for i := 10; i < 30; i++ {
		rms[i] = 1.0
		flux[i] = 1.0
		centroid[i] = 1.0
	}

	f := flatFeatures(rms, flux, centroid)
	r, err := Detect(f)
	require.NoError(t, err)
	assert.InDelta(t, 10, r.Start, 2)
	assert.Greater(t, r.Len(), 10)
}

func TestDetectErrorsOnSilence(t *testing.T) {
	n := 40
	zero := make([]float64, n)
	f := flatFeatures(zero, zero, zero)
	_, err := Detect(f)
	assert.ErrorIs(t, err, echoerr.ErrNoActiveRegion)
}

func TestDetectMergesSmallGaps(t *testing.T) {
	n := 40
	rms := make([]float64, n)
	for i := 5; i < 15; i++ {
		rms[i] = 1.0
	}
	for i := 18; i < 30; i++ {
		rms[i] = 1.0
	}
	f := flatFeatures(rms, rms, rms)
	r, err := Detect(f)
	require.NoError(t, err)
	// The 3-frame gap (15-18) is bridged: frame 15 scores exactly
	// lowThreshold (centroid-delta term only), leaving just frames 16-17
	// below it, fewer than releaseFrames. The falling edge at frame 30
	// also scores lowThreshold, so release counts frames 31-34 and the
	// region ends at 31.
	assert.Equal(t, 5, r.Start)
	assert.Equal(t, 31, r.End)
}

func TestDetectIsIdempotent(t *testing.T) {
	n := 40
	rms := make([]float64, n)
	for i := 8; i < 32; i++ {
		rms[i] = 1.0
	}
	f := flatFeatures(rms, rms, rms)
	r1, err := Detect(f)
	require.NoError(t, err)
	r2, err := Detect(f)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestMinActiveFramesRounding(t *testing.T) {
	assert.Equal(t, 5, minActiveFrames(44100, 1024))
}

func TestCentroidDeltaZeroForConstantCentroid(t *testing.T) {
	centroid := make([]float64, 10)
	for i := range centroid {
		centroid[i] = 5.0
	}
	delta := centroidDelta(centroid)
	for i := 1; i < len(delta); i++ {
		assert.Equal(t, 0.0, delta[i])
	}
}

// A sustained, unchanging pitch must not by itself register as activity:
// the composite score's centroid term is the normalized frame-to-frame
// centroid delta, not the raw centroid level.
func TestCompositeScoreIgnoresSteadyCentroidLevel(t *testing.T) {
	n := 10
	silence := make([]float64, n)
	steadyCentroid := make([]float64, n)
	for i := range steadyCentroid {
		steadyCentroid[i] = 5.0
	}

	scores := compositeScore(flatFeatures(silence, silence, steadyCentroid))
	for _, s := range scores {
		assert.Equal(t, 0.0, s)
	}
}

func TestCompositeScoreReactsToCentroidChange(t *testing.T) {
	n := 10
	silence := make([]float64, n)
	changingCentroid := make([]float64, n)
	for i := range changingCentroid {
		if i%2 == 0 {
			changingCentroid[i] = 5.0
		}
	}

	scores := compositeScore(flatFeatures(silence, silence, changingCentroid))
	assert.Greater(t, scores[2], 0.0)
}
