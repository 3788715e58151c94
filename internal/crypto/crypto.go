// Package crypto implements the envelope encryption a replica applies to
// every version and snapshot payload before it leaves the machine (spec
// §6). The server only ever stores and returns opaque sealed bytes; it
// never holds the key.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

const (
	pbkdf2Iterations = 600000
	envelopeVersion  byte = 1
	taskAppID        byte = 1
	// aadLen is 1 byte app id + 16 byte version id.
	aadLen = 17
)

// Unsealed is a plaintext payload bound to the version it will travel with.
// The version_id is never itself encrypted, but it is authenticated as
// associated data so a sealed payload cannot be replayed under a different
// version_id.
type Unsealed struct {
	VersionID op.TaskId
	Payload   []byte
}

// Sealed is an encrypted payload bound to the same version_id.
type Sealed struct {
	VersionID op.TaskId
	Payload   []byte
}

// Encryptor seals and unseals version and snapshot payloads with a key
// derived once from the replica's secret and the server-issued salt. Key
// derivation costs tens of milliseconds, so an Encryptor should be built
// once per secret and reused.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives the AEAD key from secret and salt via 600,000
// rounds of PBKDF2-HMAC-SHA256, matching the version-1 envelope format.
func NewEncryptor(salt, secret []byte) (*Encryptor, error) {
	keyBytes := pbkdf2.Key(secret, salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha256.New)
	aead, err := chacha20poly1305.New(keyBytes)
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindEncryption, err, "construct AEAD cipher")
	}
	return &Encryptor{aead: aead}, nil
}

// GenSalt returns a fresh random 16-byte salt suitable for key derivation.
func GenSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, tcerr.Wrap(tcerr.KindEncryption, err, "generate salt")
	}
	return salt, nil
}

// Seal encrypts u.Payload, producing a version-1 envelope: a 1-byte version
// tag, the 12-byte nonce, and the ciphertext with its authentication tag
// appended. The version_id travels in the clear as associated data so an
// unseal call can verify the ciphertext was produced for this exact
// version.
func (e *Encryptor) Seal(u Unsealed) (Sealed, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, tcerr.Wrap(tcerr.KindEncryption, err, "generate nonce")
	}

	aad := makeAAD(u.VersionID)
	ciphertext := e.aead.Seal(nil, nonce, u.Payload, aad)

	envelope := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	envelope = append(envelope, envelopeVersion)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)

	return Sealed{VersionID: u.VersionID, Payload: envelope}, nil
}

// Unseal authenticates and decrypts s.Payload, returning the original
// plaintext. It fails if the envelope version is unrecognized, the envelope
// is too short to contain a nonce, or authentication fails (which covers
// tampering and sealing under the wrong version_id or key).
func (e *Encryptor) Unseal(s Sealed) (Unsealed, error) {
	buf := s.Payload
	if len(buf) < 1+chacha20poly1305.NonceSize {
		return Unsealed{}, tcerr.New(tcerr.KindEncryption, "envelope is too small")
	}
	if buf[0] != envelopeVersion {
		return Unsealed{}, tcerr.New(tcerr.KindEncryption, "unrecognized encryption envelope version %d", buf[0])
	}

	nonce := buf[1 : 1+chacha20poly1305.NonceSize]
	ciphertext := buf[1+chacha20poly1305.NonceSize:]
	aad := makeAAD(s.VersionID)

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return Unsealed{}, tcerr.Wrap(tcerr.KindEncryption, err, "open encrypted payload")
	}
	return Unsealed{VersionID: s.VersionID, Payload: plaintext}, nil
}

func makeAAD(versionID op.TaskId) []byte {
	aad := make([]byte, aadLen)
	aad[0] = taskAppID
	copy(aad[1:], versionID[:])
	return aad
}
