// Package capture records live microphone audio for ritual enrollment
// and unlocking, via PortAudio.
package capture

import (
	"time"

	"github.com/gordonklaus/portaudio"

	echoerr "echotome/internal/errors"
)

// Channels is fixed at mono: Echotome's feature extraction operates on
// a single channel, and stereo capture would only double I/O cost.
const Channels = 1

// Recorder wraps a single PortAudio input stream.
type Recorder struct {
	SampleRate int
}

// NewRecorder initializes the PortAudio runtime. Callers must call
// Close when done recording for the process lifetime.
func NewRecorder(sampleRate int) (*Recorder, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, echoerr.NewCryptoError("portaudio-init", err)
	}
	return &Recorder{SampleRate: sampleRate}, nil
}

// Close releases the PortAudio runtime.
func (r *Recorder) Close() error {
	return portaudio.Terminate()
}

// Record blocks for duration, capturing mono float64 PCM samples from
// the default input device at the recorder's sample rate.
func (r *Recorder) Record(duration time.Duration) ([]float64, error) {
	numFrames := int(duration.Seconds() * float64(r.SampleRate))
	samples := make([]float64, 0, numFrames)
	bufSize := 1024

	buf := make([]float64, bufSize)
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(r.SampleRate), bufSize, buf)
	if err != nil {
		return nil, echoerr.NewCryptoError("portaudio-open-stream", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, echoerr.NewCryptoError("portaudio-start", err)
	}
	defer stream.Stop()

	for len(samples) < numFrames {
		if err := stream.Read(); err != nil {
			return nil, echoerr.NewCryptoError("portaudio-read", err)
		}
		samples = append(samples, buf...)
	}
	return samples[:numFrames], nil
}
