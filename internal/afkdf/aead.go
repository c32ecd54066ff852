package afkdf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/Picocrypt/serpent"
	"golang.org/x/crypto/chacha20poly1305"

	echoerr "echotome/internal/errors"
)

// AlgoID identifies the AEAD primitive a ciphertext envelope was sealed
// with, so Open can select the matching cipher without out-of-band
// configuration. Stored as a single byte in the envelope header.
type AlgoID byte

const (
	AlgoXChaCha20Poly1305 AlgoID = 1
	AlgoAESGCM            AlgoID = 2
)

var envelopeMagic = [4]byte{'E', 'C', 'H', 'O'}

const envelopeVersion = 1

// Envelope is a sealed ciphertext ready for storage: the AEAD algorithm,
// privacy profile, nonce, associated data, and ciphertext are all bundled
// so Open needs nothing but the key to recover the plaintext.
type Envelope struct {
	Algo    AlgoID
	Profile Profile
	Nonce   []byte
	AD      []byte
	Cipher  []byte // ciphertext with appended AEAD tag
}

func newAEAD(algo AlgoID, key []byte) (cipher.AEAD, error) {
	switch algo {
	case AlgoXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	case AlgoAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("afkdf: unknown algo id %d", algo)
	}
}

// serpentCascade applies BlackVault's second cipher layer: Serpent-CTR
// keyed off the master key, with a per-message IV derived from the AEAD
// nonce. Serpent-CTR is a symmetric XOR stream so the same call encrypts
// and decrypts.
func serpentCascade(master, nonce, data []byte) ([]byte, error) {
	block, err := serpent.NewCipher(serpentKeyFor(master))
	if err != nil {
		return nil, echoerr.NewCryptoError("serpent-cascade", err)
	}
	ivSum := sha256.Sum256(nonce)
	stream := cipher.NewCTR(block, ivSum[:16])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// Seal encrypts plaintext under key (the AF-KDF master key or its
// temporal-bound derivative) using algo, wrapping the result in a
// self-describing envelope. For BlackVault, plaintext is first passed
// through a Serpent-CTR cascade keyed off master, matching the
// cascade order: Serpent-CTR -> AEAD seal.
func Seal(key, master []byte, profile Profile, algo AlgoID, ad, plaintext []byte) (*Envelope, error) {
	aead, err := newAEAD(algo, key)
	if err != nil {
		return nil, echoerr.NewCryptoError("aead-init", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, echoerr.NewCryptoError("rand-nonce", err)
	}

	input := plaintext
	if profile == BlackVault {
		input, err = serpentCascade(master, nonce, plaintext)
		if err != nil {
			return nil, err
		}
	}

	ct := aead.Seal(nil, nonce, input, ad)
	return &Envelope{Algo: algo, Profile: profile, Nonce: nonce, AD: ad, Cipher: ct}, nil
}

// Open reverses Seal: verifies and decrypts the envelope under key,
// undoing the Serpent cascade for BlackVault envelopes. Returns
// ErrAEADFailure (wrapped) on any authentication failure.
func Open(key, master []byte, env *Envelope) ([]byte, error) {
	aead, err := newAEAD(env.Algo, key)
	if err != nil {
		return nil, echoerr.NewCryptoError("aead-init", err)
	}

	plain, err := aead.Open(nil, env.Nonce, env.Cipher, env.AD)
	if err != nil {
		return nil, echoerr.Wrap(echoerr.ErrAEADFailure, err.Error())
	}

	if env.Profile == BlackVault {
		plain, err = serpentCascade(master, env.Nonce, plain)
		if err != nil {
			return nil, err
		}
	}

	return plain, nil
}

// Marshal serializes an envelope to its on-disk wire format:
//
//	magic(4) version(1) algo(1) profile(1) nonce_len(1) nonce(n)
//	ad_len(4, LE) ad(n) ct_len(4, LE) ciphertext(n)
func (e *Envelope) Marshal() []byte {
	buf := make([]byte, 0, 4+1+1+1+1+len(e.Nonce)+4+len(e.AD)+4+len(e.Cipher))
	buf = append(buf, envelopeMagic[:]...)
	buf = append(buf, envelopeVersion, byte(e.Algo), e.Profile.ID(), byte(len(e.Nonce)))
	buf = append(buf, e.Nonce...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.AD)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, e.AD...)

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Cipher)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, e.Cipher...)
	return buf
}

// UnmarshalEnvelope parses the wire format produced by Marshal.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 8 {
		return nil, echoerr.Wrap(echoerr.ErrPayloadTruncated, "envelope header")
	}
	if [4]byte(data[:4]) != envelopeMagic {
		return nil, echoerr.Wrap(echoerr.ErrPayloadCorrupt, "bad envelope magic")
	}
	if data[4] != envelopeVersion {
		return nil, fmt.Errorf("afkdf: unsupported envelope version %d", data[4])
	}

	algo := AlgoID(data[5])
	profile, ok := ProfileByID(data[6])
	if !ok {
		return nil, fmt.Errorf("afkdf: unknown profile id %d", data[6])
	}
	nonceLen := int(data[7])
	off := 8
	if len(data) < off+nonceLen+4 {
		return nil, echoerr.Wrap(echoerr.ErrPayloadTruncated, "envelope nonce")
	}
	nonce := data[off : off+nonceLen]
	off += nonceLen

	adLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if len(data) < off+adLen+4 {
		return nil, echoerr.Wrap(echoerr.ErrPayloadTruncated, "envelope ad")
	}
	ad := data[off : off+adLen]
	off += adLen

	ctLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if len(data) < off+ctLen {
		return nil, echoerr.Wrap(echoerr.ErrPayloadTruncated, "envelope ciphertext")
	}
	ct := data[off : off+ctLen]

	return &Envelope{Algo: algo, Profile: profile, Nonce: nonce, AD: ad, Cipher: ct}, nil
}
