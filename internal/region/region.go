// Package region detects the active (performed) span within a ritual
// recording: the contiguous stretch of frames where RMS, spectral flux,
// and spectral centroid all indicate real playback rather than silence
// or room noise.
package region

import (
	"math"

	"echotome/internal/audio"
	echoerr "echotome/internal/errors"
)

// Composite score weights (spec-fixed, must not drift between runs of
// the same recording or enrollment and unlock disagree on the region).
const (
	weightRMS      = 0.5
	weightFlux     = 0.3
	weightCentroid = 0.2

	highThreshold  = 0.35
	lowThreshold   = 0.20
	releaseFrames  = 4
	gapFrames      = 8
	minActiveSecs  = 0.1
)

// Region is a contiguous span of active frames, expressed as a
// half-open frame index interval [Start, End).
type Region struct {
	Start int
	End   int
}

// Len returns the number of frames the region covers.
func (r Region) Len() int { return r.End - r.Start }

func normalize(series []float64) []float64 {
	max := 0.0
	for _, v := range series {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(series))
	if max == 0 {
		return out
	}
	for i, v := range series {
		out[i] = v / max
	}
	return out
}

// centroidDelta returns the absolute frame-to-frame difference of the
// spectral centroid series, with a leading 0 for alignment so its
// length matches the source series.
func centroidDelta(centroid []float64) []float64 {
	out := make([]float64, len(centroid))
	for i := 1; i < len(centroid); i++ {
		out[i] = math.Abs(centroid[i] - centroid[i-1])
	}
	return out
}

// compositeScore blends the three normalized series into one activity
// score per frame using the fixed weights above. The centroid term uses
// the normalized absolute frame-to-frame centroid delta, not the raw
// centroid series, so the score reacts to spectral change rather than
// to a sustained high or low pitch.
func compositeScore(f *audio.Features) []float64 {
	rms := normalize(f.RMS)
	flux := normalize(f.SpectralFlux)
	deltaCentroid := normalize(centroidDelta(f.SpectralCentroid))

	scores := make([]float64, len(rms))
	for i := range scores {
		scores[i] = weightRMS*rms[i] + weightFlux*flux[i] + weightCentroid*deltaCentroid[i]
	}
	return scores
}

// Detect finds the longest active run in a recording's features using a
// two-threshold hysteresis: a frame becomes active once the score
// crosses highThreshold, and stays active until it has been below
// lowThreshold for releaseFrames consecutive frames. Adjacent runs
// separated by a gap no larger than gapFrames are merged into one.
//
// Returns ErrNoActiveRegion if no run reaches the minimum active length
// for the recording's sample rate (min_active_secs of real time).
func Detect(f *audio.Features) (Region, error) {
	scores := compositeScore(f)

	var runs []Region
	active := false
	start := 0
	belowCount := 0

	for i, s := range scores {
		if !active {
			if s >= highThreshold {
				active = true
				start = i
				belowCount = 0
			}
			continue
		}
		if s < lowThreshold {
			belowCount++
			if belowCount >= releaseFrames {
				runs = append(runs, Region{Start: start, End: i - belowCount + 1})
				active = false
				belowCount = 0
			}
		} else {
			belowCount = 0
		}
	}
	if active {
		runs = append(runs, Region{Start: start, End: len(scores)})
	}

	runs = mergeRuns(runs, gapFrames)

	minFrames := minActiveFrames(f.SampleRate, f.HopSize)
	var best Region
	haveBest := false
	for _, r := range runs {
		if r.Len() < minFrames {
			continue
		}
		if !haveBest || r.Len() > best.Len() {
			best = r
			haveBest = true
		}
	}
	if !haveBest {
		return Region{}, echoerr.ErrNoActiveRegion
	}
	return best, nil
}

// mergeRuns merges runs separated by a gap of at most maxGap frames.
func mergeRuns(runs []Region, maxGap int) []Region {
	if len(runs) == 0 {
		return runs
	}
	merged := []Region{runs[0]}
	for _, r := range runs[1:] {
		last := &merged[len(merged)-1]
		if r.Start-last.End <= maxGap {
			last.End = r.End
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

// minActiveFrames returns the minimum number of frames a run must span
// to count as an active region, given the recording's hop size and
// sample rate: ceil(minActiveSecs * sampleRate / hopSize).
func minActiveFrames(sampleRate, hopSize int) int {
	if sampleRate == 0 || hopSize == 0 {
		return 1
	}
	return int(math.Ceil(minActiveSecs * float64(sampleRate) / float64(hopSize)))
}
