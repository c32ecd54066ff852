// Package audio extracts framed spectral features (RMS envelope,
// spectral centroid, spectral flux) from PCM audio and folds them into a
// single feature hash that anchors a ritual to its recording.
package audio

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	echoerr "echotome/internal/errors"
)

const (
	// FrameSize is the FFT window length in samples.
	FrameSize = 2048
	// HopSize is the stride between successive frames.
	HopSize = 1024
	// MinFramesForHash is the minimum number of analysis frames a
	// recording must produce before a feature hash can be trusted.
	// Shorter clips are rejected rather than silently hashed on noise.
	MinFramesForHash = 8

	featureHashDomain = "echotome-features-v1"
)

// Features holds the per-frame spectral series extracted from a
// recording, plus the canonical hash folding them together.
type Features struct {
	RMS              []float64
	SpectralCentroid []float64
	SpectralFlux     []float64
	// SpectralMap holds each frame's full magnitude spectrum
	// (FrameSize/2+1 bins), in frame order.
	SpectralMap [][]float64
	SampleRate  int
	HopSize     int
	Hash        []byte
}

// hannWindow returns a Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// Extract frames mono PCM samples, computes their magnitude spectra via
// real FFT, and derives RMS/centroid/flux series plus a canonical feature
// hash. Returns ErrInvalidInput if fewer than MinFramesForHash frames fit
// in the supplied samples.
func Extract(samples []float64, sampleRate int) (*Features, error) {
	numFrames := 0
	if len(samples) >= FrameSize {
		numFrames = (len(samples)-FrameSize)/HopSize + 1
	}
	if numFrames < MinFramesForHash {
		return nil, echoerr.Wrap(echoerr.ErrInvalidInput, "recording too short for feature extraction")
	}

	window := hannWindow(FrameSize)
	fft := fourier.NewFFT(FrameSize)
	specLen := FrameSize/2 + 1

	rms := make([]float64, numFrames)
	centroid := make([]float64, numFrames)
	flux := make([]float64, numFrames)
	spectralMap := make([][]float64, numFrames)

	prevSpectrum := make([]float64, specLen)
	windowed := make([]float64, FrameSize)

	for i := 0; i < numFrames; i++ {
		start := i * HopSize
		frame := samples[start : start+FrameSize]

		var sumSquares float64
		for j, s := range frame {
			windowed[j] = s * window[j]
			sumSquares += s * s
		}
		rms[i] = math.Sqrt(sumSquares / float64(FrameSize))

		coeffs := fft.Coefficients(nil, windowed)
		spectrum := make([]float64, specLen)
		var weightedSum, magSum, fluxSum float64
		for k := 0; k < specLen; k++ {
			mag := math.Hypot(real(coeffs[k]), imag(coeffs[k]))
			spectrum[k] = mag
			weightedSum += mag * float64(k)
			magSum += mag
			d := mag - prevSpectrum[k]
			if d > 0 {
				fluxSum += d * d
			}
		}
		if magSum > 0 {
			centroid[i] = weightedSum / magSum
		}
		flux[i] = math.Sqrt(fluxSum)
		spectralMap[i] = spectrum
		prevSpectrum = spectrum
	}

	f := &Features{
		RMS:              rms,
		SpectralCentroid: centroid,
		SpectralFlux:     flux,
		SpectralMap:      spectralMap,
		SampleRate:       sampleRate,
		HopSize:          HopSize,
	}
	f.Hash = computeFeatureHash(f)
	return f, nil
}

// firstSpectralBins is how many bins of the frame-averaged magnitude
// spectrum are folded into the feature hash.
const firstSpectralBins = 32

// meanVariance returns a series' mean and population variance, 0,0 for
// an empty series.
func meanVariance(series []float64) (float64, float64) {
	if len(series) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var sqDiff float64
	for _, v := range series {
		d := v - mean
		sqDiff += d * d
	}
	return mean, sqDiff / float64(len(series))
}

// averagedSpectrum averages each bin across all frames, producing a
// single magnitude spectrum that summarizes the whole recording.
func averagedSpectrum(spectralMap [][]float64) []float64 {
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

// computeFeatureHash hashes the canonical, fixed-size reduction of a
// recording's features: sample rate, frame size, hop size, the
// mean/variance of each of the RMS/centroid/flux series, and the first
// firstSpectralBins bins of the frame-averaged magnitude spectrum - all
// as little-endian float32 bytes. The reduction has the same size
// whatever the recording length (the hash input itself still depends on
// the recording), and two extractions of the same recording always yield
// a byte-identical hash regardless of host endianness. This recipe is fixed: changing it
// changes every feature_hash ever computed.
func computeFeatureHash(f *Features) []byte {
	h := sha256.New()
	h.Write([]byte(featureHashDomain))

	var u32 [4]byte
	writeU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		h.Write(u32[:])
	}
	writeU32(uint32(f.SampleRate))
	writeU32(uint32(FrameSize))
	writeU32(uint32(HopSize))

	var f32 [4]byte
	writeFloat32 := func(v float64) {
		binary.LittleEndian.PutUint32(f32[:], math.Float32bits(float32(v)))
		h.Write(f32[:])
	}

	for _, series := range [][]float64{f.RMS, f.SpectralCentroid, f.SpectralFlux} {
		mean, variance := meanVariance(series)
		writeFloat32(mean)
		writeFloat32(variance)
	}

	spectrum := averagedSpectrum(f.SpectralMap)
	for k := 0; k < firstSpectralBins; k++ {
		if k < len(spectrum) {
			writeFloat32(spectrum[k])
		} else {
			writeFloat32(0)
		}
	}

	return h.Sum(nil)
}
