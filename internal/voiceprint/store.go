// Package voiceprint stores the enrolled owner embedding encrypted at rest.
//
// One artifact exists per owner per key epoch. The on-disk format is a JSON
// document carrying the AEAD ciphertext and a one-way fingerprint of the
// derived key — never the key itself. Loading with a different key fails
// with [ErrKeyMismatch] before any decryption is attempted, so operators
// can distinguish "re-enroll after rotation" from a corrupted artifact.
//
// The encryption key is derived from an operator-supplied secret with
// HKDF-SHA256 and the embedding is sealed with XChaCha20-Poly1305. Key
// rotation therefore invalidates every existing artifact: the store never
// falls back to an old key.
package voiceprint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrMissingKey is returned when enrollment or loading is attempted without
// an explicit secret. Enrollment must never proceed without one.
var ErrMissingKey = errors.New("voiceprint: missing encryption key")

// ErrKeyMismatch is returned when an artifact's key fingerprint does not
// match the supplied key. This is a security-relevant condition and is
// never folded into a generic decode failure: it means the key was rotated
// and the owner must re-enroll.
var ErrKeyMismatch = errors.New("voiceprint: key fingerprint mismatch")

// ErrNotEnrolled is returned when no artifact exists at the store path.
var ErrNotEnrolled = errors.New("voiceprint: owner not enrolled")

// hkdfInfo binds derived keys to this store's purpose and format version.
// Changing it is a format break that invalidates all artifacts.
const hkdfInfo = "voicegate/voiceprint/v1"

// Artifact is the persisted form of an enrolled voiceprint.
type Artifact struct {
	// OwnerID identifies the enrolled identity.
	OwnerID string `json:"owner_id"`

	// Ciphertext is the AEAD-sealed embedding, nonce-prefixed.
	Ciphertext []byte `json:"ciphertext"`

	// KeyFingerprint is the hex SHA-256 of the derived key. Used only for
	// mismatch detection; it does not reveal the key.
	KeyFingerprint string `json:"key_fingerprint"`

	// CreatedAt is the enrollment time.
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes one owner's voiceprint artifact at a fixed path.
// The key material is supplied per call and never retained.
type Store struct {
	path string
}

// NewStore creates a Store for the artifact at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Exists reports whether an artifact is present at the store path.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Enroll seals embedding under key and writes the artifact to the store
// path with owner-only file permissions, replacing any previous artifact.
// Returns [ErrMissingKey] when key is empty.
func (s *Store) Enroll(ownerID string, embedding []float32, key []byte) (*Artifact, error) {
	art, err := Seal(ownerID, embedding, key)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("voiceprint: encode artifact: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return nil, fmt.Errorf("voiceprint: write %q: %w", s.path, err)
	}
	return art, nil
}

// Load reads the artifact from the store path and opens it with key.
// Returns [ErrNotEnrolled] when no artifact exists, [ErrMissingKey] when
// key is empty, and [ErrKeyMismatch] when the artifact was sealed under a
// different key.
func (s *Store) Load(key []byte) (ownerID string, embedding []float32, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("voiceprint: %q: %w", s.path, ErrNotEnrolled)
		}
		return "", nil, fmt.Errorf("voiceprint: read %q: %w", s.path, err)
	}

	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return "", nil, fmt.Errorf("voiceprint: decode artifact %q: %w", s.path, err)
	}

	embedding, err = art.Open(key)
	if err != nil {
		return "", nil, err
	}
	return art.OwnerID, embedding, nil
}

// Seal encrypts embedding under key and returns the artifact without
// persisting it. Returns [ErrMissingKey] when key is empty.
func Seal(ownerID string, embedding []float32, key []byte) (*Artifact, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("voiceprint: embedding must not be empty")
	}

	derived, err := deriveKey(key)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("voiceprint: generate nonce: %w", err)
	}

	plaintext := encodeEmbedding(embedding)
	ciphertext := aead.Seal(nonce, nonce, plaintext, []byte(ownerID))

	return &Artifact{
		OwnerID:        ownerID,
		Ciphertext:     ciphertext,
		KeyFingerprint: Fingerprint(derived),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Open decrypts the artifact's embedding with key. Returns [ErrMissingKey]
// when key is empty and [ErrKeyMismatch] when the fingerprint of the
// derived key differs from the one recorded at enrollment.
func (a *Artifact) Open(key []byte) ([]float32, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}

	derived, err := deriveKey(key)
	if err != nil {
		return nil, err
	}
	if Fingerprint(derived) != a.KeyFingerprint {
		return nil, ErrKeyMismatch
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: init cipher: %w", err)
	}
	if len(a.Ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("voiceprint: ciphertext too short")
	}

	nonce, sealed := a.Ciphertext[:aead.NonceSize()], a.Ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(a.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("voiceprint: decrypt: %w", err)
	}

	return decodeEmbedding(plaintext)
}

// Fingerprint returns the hex SHA-256 digest of a derived key.
func Fingerprint(derived []byte) string {
	sum := sha256.Sum256(derived)
	return hex.EncodeToString(sum[:])
}

// deriveKey stretches the operator secret into a 32-byte cipher key.
func deriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("voiceprint: derive key: %w", err)
	}
	return key, nil
}

// encodeEmbedding serialises an embedding as a length-prefixed sequence of
// little-endian IEEE-754 float32 values.
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4+4*len(embedding))
	binary.LittleEndian.PutUint32(buf, uint32(len(embedding)))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding is the inverse of encodeEmbedding.
func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("voiceprint: embedding payload truncated")
	}
	n := binary.LittleEndian.Uint32(data)
	if uint64(len(data)) != 4+4*uint64(n) {
		return nil, fmt.Errorf("voiceprint: embedding payload length mismatch")
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return out, nil
}
