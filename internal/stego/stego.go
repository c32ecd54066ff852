// Package stego embeds and extracts ritual payloads in the low bits of
// an image's RGB channels (LSB steganography), so a vault's certificate
// can travel disguised as an ordinary picture.
package stego

import (
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"

	echoerr "echotome/internal/errors"
)

// frameMagic identifies an embedded Echotome payload at the start of
// the bitstream, before trusting the length/CRC that follow it.
var frameMagic = [4]byte{'E', 'C', 'H', 'S'}

// bitsPerPixel is the number of LSB-carrying sub-pixels used per image
// pixel: the R, G, and B channels, skipping alpha so transparency is
// never perturbed.
const bitsPerPixel = 3

// Capacity returns the maximum payload size in bytes that img can carry,
// accounting for the magic+length+CRC framing overhead.
func Capacity(img image.Image) int {
	b := img.Bounds()
	totalBits := b.Dx() * b.Dy() * bitsPerPixel
	frameOverhead := (len(frameMagic) + 4 + 4) * 8
	if totalBits <= frameOverhead {
		return 0
	}
	return (totalBits - frameOverhead) / 8
}

// Embed writes payload into a copy of img's low bits and returns the
// resulting RGBA image. Returns ErrCapacityExceeded if img is too small.
func Embed(img image.Image, payload []byte) (*image.RGBA, error) {
	if len(payload) > Capacity(img) {
		return nil, echoerr.ErrCapacityExceeded
	}

	frame := buildFrame(payload)
	bits := bytesToBits(frame)

	b := img.Bounds()
	out := image.NewRGBA(b)
	bitIdx := 0

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			px := []byte{byte(r >> 8), byte(g >> 8), byte(bl >> 8)}
			for c := 0; c < bitsPerPixel; c++ {
				if bitIdx < len(bits) {
					px[c] = (px[c] &^ 1) | bits[bitIdx]
					bitIdx++
				}
			}
			out.SetRGBA(x, y, color.RGBA{R: px[0], G: px[1], B: px[2], A: byte(a >> 8)})
		}
	}
	return out, nil
}

// Extract recovers a payload previously embedded by Embed. Returns
// ErrPayloadTruncated if the image doesn't have enough bits for even the
// frame header, and ErrPayloadCorrupt if the magic or CRC don't match.
func Extract(img image.Image) ([]byte, error) {
	b := img.Bounds()
	headerBits := (len(frameMagic) + 4) * 8 // magic + length, before we know payload size
	totalBits := b.Dx() * b.Dy() * bitsPerPixel
	if totalBits < headerBits {
		return nil, echoerr.ErrPayloadTruncated
	}

	bits := make([]byte, 0, totalBits)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			bits = append(bits, byte(r>>8)&1, byte(g>>8)&1, byte(bl>>8)&1)
		}
	}

	header := bitsToBytes(bits[:headerBits])
	if [4]byte(header[:4]) != frameMagic {
		return nil, echoerr.ErrPayloadCorrupt
	}
	payloadLen := binary.LittleEndian.Uint32(header[4:8])

	frameBits := (len(frameMagic) + 4 + 4 + int(payloadLen)) * 8
	if frameBits > len(bits) {
		return nil, echoerr.ErrPayloadTruncated
	}

	frame := bitsToBytes(bits[:frameBits])
	crcStored := binary.LittleEndian.Uint32(frame[8:12])
	payload := frame[12:]
	if crc32.ChecksumIEEE(payload) != crcStored {
		return nil, echoerr.ErrPayloadCorrupt
	}
	return payload, nil
}

// buildFrame assembles magic(4) || len_le(4) || crc32_le(4) || payload.
func buildFrame(payload []byte) []byte {
	frame := make([]byte, 0, 12+len(payload))
	frame = append(frame, frameMagic[:]...)

	var lenBuf, crcBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload))

	frame = append(frame, lenBuf[:]...)
	frame = append(frame, crcBuf[:]...)
	frame = append(frame, payload...)
	return frame
}

func bytesToBits(data []byte) []byte {
	bits := make([]byte, len(data)*8)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (b >> uint(7-j)) & 1
		}
	}
	return bits
}

func bitsToBytes(bits []byte) []byte {
	out := make([]byte, len(bits)/8)
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			b = (b << 1) | bits[i*8+j]
		}
		out[i] = b
	}
	return out
}
