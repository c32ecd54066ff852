package riv

import (
	"bytes"
	"testing"

	"echotome/internal/audio"
	"github.com/stretchr/testify/assert"
)

func sampleFeatures() *audio.Features {
	n := 32
	rms := make([]float64, n)
	centroid := make([]float64, n)
	flux := make([]float64, n)
	spectralMap := make([][]float64, n)
	for i := range rms {
		rms[i] = float64(i % 5)
		centroid[i] = float64((i * 7) % 11)
		flux[i] = float64((i * 3) % 13)
		bin := make([]float64, 64)
		for k := range bin {
			bin[k] = float64((i + k) % 17)
		}
		spectralMap[i] = bin
	}
	return &audio.Features{
		RMS:              rms,
		SpectralCentroid: centroid,
		SpectralFlux:     flux,
		SpectralMap:      spectralMap,
		SampleRate:       44100,
		HopSize:          1024,
	}
}

func TestCoarseSpectralSignatureLength(t *testing.T) {
	sig := CoarseSpectralSignature(sampleFeatures())
	assert.Len(t, sig, spectralSignatureLen)
}

func TestCoarseRhythmSignatureLength(t *testing.T) {
	sig := CoarseRhythmSignature(sampleFeatures())
	assert.Len(t, sig, rhythmSignatureLen)
}

func TestCoarseSpectralSignatureDiffersBySpectralMap(t *testing.T) {
	f := sampleFeatures()
	a := CoarseSpectralSignature(f)

	other := sampleFeatures()
	for k := range other.SpectralMap[0] {
		other.SpectralMap[0][k] = 999
	}
	b := CoarseSpectralSignature(other)
	assert.NotEqual(t, a, b)
}

func TestCoarseRhythmSignatureDiffersByFlux(t *testing.T) {
	f := sampleFeatures()
	a := CoarseRhythmSignature(f)

	other := sampleFeatures()
	other.SpectralFlux[0] = 999
	b := CoarseRhythmSignature(other)
	assert.NotEqual(t, a, b)
}

func TestComputeDeterministic(t *testing.T) {
	f := sampleFeatures()
	fh := bytes.Repeat([]byte{0x01}, 32)
	th := bytes.Repeat([]byte{0x02}, 32)

	a := Compute(fh, th, f)
	b := Compute(fh, th, f)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestComputeDiffersByTemporalHash(t *testing.T) {
	f := sampleFeatures()
	fh := bytes.Repeat([]byte{0x01}, 32)

	a := Compute(fh, bytes.Repeat([]byte{0x02}, 32), f)
	b := Compute(fh, bytes.Repeat([]byte{0x03}, 32), f)
	assert.NotEqual(t, a, b)
}

func TestComputeDiffersByFeatures(t *testing.T) {
	fh := bytes.Repeat([]byte{0x01}, 32)
	th := bytes.Repeat([]byte{0x02}, 32)

	a := Compute(fh, th, sampleFeatures())
	other := sampleFeatures()
	other.SpectralFlux[0] = 999
	b := Compute(fh, th, other)
	assert.NotEqual(t, a, b)
}
