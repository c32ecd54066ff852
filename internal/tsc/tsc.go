// Package tsc implements the Temporal Salt Chain: a streaming SHA-256
// hash chain over a ritual recording's frames that binds the order and
// timing of playback into a single temporal hash.
package tsc

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"time"

	echoerr "echotome/internal/errors"
)

const chainDomain = "echotome-tsc-v1"

// Chain accumulates a temporal salt chain frame by frame. Frames MUST be
// added in strictly increasing index order; any gap or repeat is an
// ordering violation, since the chain's entire purpose is to bind the
// exact sequence a ritual was played back in.
type Chain struct {
	state       []byte
	expectIndex int
	done        bool
}

// NewChain starts a chain anchored to the owner's public key and the
// declared track length, so two owners (or two different-length tracks)
// never produce colliding chains.
func NewChain(ownerPub []byte, trackLength int) *Chain {
	h := sha256.New()
	h.Write([]byte(chainDomain))
	h.Write(ownerPub)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(trackLength))
	h.Write(lenBuf[:])
	return &Chain{state: h.Sum(nil)}
}

// perFrameDigest is SHA-256 over a frame's float32 little-endian sample
// bytes, folded into the chain in place of the raw frame so a fixed
// 32-byte quantity enters the running hash regardless of frame size.
func perFrameDigest(frame []byte) []byte {
	sum := sha256.Sum256(frame)
	return sum[:]
}

// AddFrame folds one frame's digest into the chain at index, binding the
// frame's start time (in milliseconds from the region origin) alongside
// it so a timing-compressed or expanded replay changes the chain even
// when the frame content itself is unchanged. Returns ErrOrderingError if
// index is not exactly the next expected index (chains do not tolerate
// reordering, gaps, or duplicates).
func (c *Chain) AddFrame(index int, tMs uint64, frame []byte) error {
	if c.done {
		return echoerr.Wrap(echoerr.ErrOrderingError, "chain already finalized")
	}
	if index != c.expectIndex {
		return echoerr.ErrOrderingError
	}

	h := sha256.New()
	h.Write(c.state)
	var idxBuf [4]byte
	binary.LittleEndian.PutUint32(idxBuf[:], uint32(index))
	h.Write(idxBuf[:])
	var tBuf [8]byte
	binary.LittleEndian.PutUint64(tBuf[:], tMs)
	h.Write(tBuf[:])
	h.Write(perFrameDigest(frame))
	c.state = h.Sum(nil)
	c.expectIndex++
	return nil
}

// Finalize returns the chain's temporal hash. The chain may not be
// extended with further frames afterward.
func (c *Chain) Finalize() []byte {
	c.done = true
	out := make([]byte, len(c.state))
	copy(out, c.state)
	return out
}

// TSC computes the temporal hash for a complete, already-ordered set of
// frames in one call - the batch counterpart to the streaming Chain API,
// used during enrollment when all frames are available up front.
// timestampsMs[i] is frame i's start time in milliseconds from the
// region origin.
func TSC(frames [][]byte, timestampsMs []uint64, ownerPub []byte, trackLength int) ([]byte, error) {
	if len(timestampsMs) != len(frames) {
		return nil, echoerr.Wrap(echoerr.ErrInvalidInput, "frame/timestamp count mismatch")
	}
	c := NewChain(ownerPub, trackLength)
	for i, frame := range frames {
		if err := c.AddFrame(i, timestampsMs[i], frame); err != nil {
			return nil, err
		}
	}
	return c.Finalize(), nil
}

// elapsedRatioMin and elapsedRatioMax bound how much faster or slower a
// replay's wall-clock duration may be relative to the enrollment
// recording before it is treated as a temporal mismatch rather than
// ordinary playback jitter.
const (
	elapsedRatioMin = 0.8
	elapsedRatioMax = 1.2
)

// VerifyTemporalConsistency recomputes the temporal hash for a live
// recording's frames and checks it against the hash captured at
// enrollment, then checks that the live playback took a comparable
// amount of wall-clock time. Either check failing returns
// ErrTemporalMismatch.
func VerifyTemporalConsistency(frames [][]byte, timestampsMs []uint64, ownerPub []byte, trackLength int, enrolledHash []byte, enrolledElapsed, liveElapsed time.Duration) error {
	computed, err := TSC(frames, timestampsMs, ownerPub, trackLength)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(computed, enrolledHash) != 1 {
		return echoerr.ErrTemporalMismatch
	}

	if enrolledElapsed <= 0 {
		return echoerr.ErrTemporalMismatch
	}
	ratio := float64(liveElapsed) / float64(enrolledElapsed)
	if ratio < elapsedRatioMin || ratio > elapsedRatioMax {
		return echoerr.ErrTemporalMismatch
	}
	return nil
}
