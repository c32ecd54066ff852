// Package riv computes the Ritual Imprint Vector: a 256-bit fold of a
// recording's feature hash, temporal hash, and two coarse signatures
// that summarize its spectral shape and rhythm at low resolution.
package riv

import (
	"crypto/sha256"
	"math"

	"echotome/internal/audio"
)

const domain = "echotome-riv-v1"

const (
	spectralSignatureLen = 32
	rhythmSignatureLen   = 16
)

// bucketize averages series into n equal-width buckets and quantizes
// each bucket's average into a single byte, normalized against the
// series' own maximum. This intentionally loses precision - the coarse
// signature is meant to summarize shape, not reproduce the series.
func bucketize(series []float64, n int) []byte {
	out := make([]byte, n)
	if len(series) == 0 {
		return out
	}

	max := 0.0
	for _, v := range series {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return out
	}

	bucketSize := float64(len(series)) / float64(n)
	for b := 0; b < n; b++ {
		start := int(float64(b) * bucketSize)
		end := int(float64(b+1) * bucketSize)
		if end > len(series) {
			end = len(series)
		}
		if end <= start {
			continue
		}
		sum := 0.0
		for _, v := range series[start:end] {
			sum += v
		}
		avg := sum / float64(end-start)
		out[b] = byte(math.Min(255, (avg/max)*255))
	}
	return out
}

// averageSpectrum reduces a per-frame spectral map to a single magnitude
// spectrum by averaging each bin across all frames.
func averageSpectrum(spectralMap [][]float64) []float64 {
	if len(spectralMap) == 0 {
		return nil
	}
	specLen := len(spectralMap[0])
	avg := make([]float64, specLen)
	for _, spectrum := range spectralMap {
		for k, v := range spectrum {
			avg[k] += v
		}
	}
	for k := range avg {
		avg[k] /= float64(len(spectralMap))
	}
	return avg
}

// CoarseSpectralSignature summarizes the recording's spectral map (its
// frame-averaged magnitude spectrum, across frequency bins) into 32
// bytes.
func CoarseSpectralSignature(f *audio.Features) []byte {
	return bucketize(averageSpectrum(f.SpectralMap), spectralSignatureLen)
}

// CoarseRhythmSignature summarizes the recording's spectral flux
// envelope (its frame-to-frame onset energy, a proxy for rhythmic pulse)
// into 16 bytes.
func CoarseRhythmSignature(f *audio.Features) []byte {
	return bucketize(f.SpectralFlux, rhythmSignatureLen)
}

// Compute folds a feature hash, temporal hash, and the recording's
// coarse spectral/rhythm signatures into the 32-byte ritual imprint
// vector used as the enrollment-time fingerprint of a performance.
func Compute(featureHash, temporalHash []byte, f *audio.Features) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(featureHash)
	h.Write(temporalHash)
	h.Write(CoarseSpectralSignature(f))
	h.Write(CoarseRhythmSignature(f))
	return h.Sum(nil)
}
