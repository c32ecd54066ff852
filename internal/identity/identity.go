// Package identity manages the device-bound Ed25519 signing key that
// anchors every ritual certificate to its owner.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	echoerr "echotome/internal/errors"
	"echotome/internal/log"
)

// keyFilePerm is the permission mode both identity key files MUST carry.
// Anything looser is refused on load.
const keyFilePerm = 0o600

// onDiskPrivateKey is the JSON shape persisted to the private key file
// (identity.key).
type onDiskPrivateKey struct {
	PrivateKey string `json:"private_key"` // hex
}

// onDiskPublicKey is the JSON shape persisted to the public key file
// (identity.pub).
type onDiskPublicKey struct {
	PublicKey string `json:"public_key"` // hex
}

// pubPathFor derives the public key file path from the private key file
// path: identity.key alongside identity.pub, in the same directory.
func pubPathFor(privPath string) string {
	ext := filepath.Ext(privPath)
	if ext == "" {
		return privPath + ".pub"
	}
	return strings.TrimSuffix(privPath, ext) + ".pub"
}

// Identity wraps an Ed25519 keypair and its fingerprint.
type Identity struct {
	Public      ed25519.PublicKey
	private     ed25519.PrivateKey
	Fingerprint string
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, echoerr.NewCryptoError("ed25519-generate", err)
	}
	return &Identity{Public: pub, private: priv, Fingerprint: Fingerprint(pub)}, nil
}

// Fingerprint returns the first 8 bytes of SHA-256(pub) as lowercase hex,
// a short identifier safe to print or compare visually.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// Sign produces an Ed25519 signature over msg.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Verify checks an Ed25519 signature against the identity's public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// writeKeyFile atomically writes data to path with 0600 permissions:
// write to a sibling temp file, fsync, then rename over the destination
// so a crash mid-write never leaves a truncated key file.
func writeKeyFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return echoerr.NewFileError("mkdir", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return echoerr.NewFileError("create-temp", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := tmp.Chmod(keyFilePerm); err != nil {
		tmp.Close()
		return echoerr.NewFileError("chmod", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return echoerr.NewFileError("write", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return echoerr.NewFileError("fsync", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return echoerr.NewFileError("close", tmpPath, err)
	}
	return echoerr.Wrap(os.Rename(tmpPath, path), "rename identity key into place")
}

// Save persists the identity's keypair to two sibling files, each with
// 0600 permissions: path holds the private key, and pubPathFor(path)
// holds the public key - identity.key and identity.pub.
func (id *Identity) Save(path string) error {
	privData, err := json.Marshal(onDiskPrivateKey{PrivateKey: hex.EncodeToString(id.private)})
	if err != nil {
		return echoerr.NewFileError("marshal", path, err)
	}
	pubPath := pubPathFor(path)
	pubData, err := json.Marshal(onDiskPublicKey{PublicKey: hex.EncodeToString(id.Public)})
	if err != nil {
		return echoerr.NewFileError("marshal", pubPath, err)
	}

	if err := writeKeyFile(path, privData); err != nil {
		return err
	}
	if err := writeKeyFile(pubPath, pubData); err != nil {
		return err
	}
	log.Debug("identity saved", log.String("fingerprint", id.Fingerprint), log.String("path", path))
	return nil
}

// checkKeyFilePerm refuses to load a key file whose permissions are
// looser than 0600, since a world- or group-readable signing key defeats
// the device-bound guarantee.
func checkKeyFilePerm(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return echoerr.NewFileError("stat", path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return echoerr.NewFileError("load", path,
			fmt.Errorf("identity key file permissions %o are too permissive, want %o", info.Mode().Perm(), keyFilePerm))
	}
	return nil
}

// Load reads an identity keypair from path (the private key file) and
// its sibling pubPathFor(path) (the public key file). It refuses to load
// either file if its permissions are looser than 0600.
func Load(path string) (*Identity, error) {
	if err := checkKeyFilePerm(path); err != nil {
		return nil, err
	}
	pubPath := pubPathFor(path)
	if err := checkKeyFilePerm(pubPath); err != nil {
		return nil, err
	}

	privBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, echoerr.NewFileError("read", path, err)
	}
	var privRec onDiskPrivateKey
	if err := json.Unmarshal(privBytes, &privRec); err != nil {
		return nil, echoerr.NewFileError("unmarshal", path, err)
	}

	pubBytes, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, echoerr.NewFileError("read", pubPath, err)
	}
	var pubRec onDiskPublicKey
	if err := json.Unmarshal(pubBytes, &pubRec); err != nil {
		return nil, echoerr.NewFileError("unmarshal", pubPath, err)
	}

	pub, err := hex.DecodeString(pubRec.PublicKey)
	if err != nil {
		return nil, echoerr.NewFileError("decode-public", pubPath, err)
	}
	priv, err := hex.DecodeString(privRec.PrivateKey)
	if err != nil {
		return nil, echoerr.NewFileError("decode-private", path, err)
	}
	if len(pub) != ed25519.PublicKeySize || len(priv) != ed25519.PrivateKeySize {
		return nil, echoerr.NewFileError("load", path, fmt.Errorf("malformed key sizes"))
	}

	return &Identity{
		Public:      ed25519.PublicKey(pub),
		private:     ed25519.PrivateKey(priv),
		Fingerprint: Fingerprint(pub),
	}, nil
}

// LoadOrGenerate loads the identity at path, creating and saving a new
// one (including any missing parent directory) if none exists yet.
func LoadOrGenerate(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, echoerr.NewFileError("stat", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, echoerr.NewFileError("mkdir", filepath.Dir(path), err)
	}
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}
