package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

const (
	envelopeKeySize   = 32
	envelopeNonceSize = 12
)

// EncryptedPayload is the wire shape of an envelope-protected body.
type EncryptedPayload struct {
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
	Signature     string `json:"signature"`
}

type envelopeKeys struct {
	aead    cipher.AEAD
	signKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
}

// Envelope provides message-level confidentiality and origin authentication:
// AES-256-GCM over the plaintext plus an Ed25519 signature over
// nonce||ciphertext binding the payload to this process's signing identity.
// Key material is generated lazily on first use, lives only in memory and
// does not survive a restart.
type Envelope struct {
	mu     sync.RWMutex
	keys   *envelopeKeys
	flight singleflight.Group
}

// NewEnvelope constructs an Envelope with no key material yet.
func NewEnvelope() *Envelope {
	return &Envelope{}
}

// material returns the process keys, generating them exactly once even under
// concurrent first use.
func (e *Envelope) material() (*envelopeKeys, error) {
	e.mu.RLock()
	keys := e.keys
	e.mu.RUnlock()
	if keys != nil {
		return keys, nil
	}

	v, err, _ := e.flight.Do("keygen", func() (any, error) {
		e.mu.RLock()
		existing := e.keys
		e.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		generated, err := generateKeys()
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.keys = generated
		e.mu.Unlock()
		return generated, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*envelopeKeys), nil
}

func generateKeys() (*envelopeKeys, error) {
	symKey := make([]byte, envelopeKeySize)
	if _, err := rand.Read(symKey); err != nil {
		return nil, fmt.Errorf("security: generate symmetric key: %w", err)
	}
	block, err := aes.NewCipher(symKey)
	if err != nil {
		return nil, fmt.Errorf("security: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: gcm init: %w", err)
	}
	pubKey, signKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("security: generate signing key: %w", err)
	}
	return &envelopeKeys{aead: aead, signKey: signKey, pubKey: pubKey}, nil
}

// PublicKey exposes the verification key so clients can check response
// signatures.
func (e *Envelope) PublicKey() (string, error) {
	keys, err := e.material()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(keys.pubKey), nil
}

// Encrypt seals plaintext with a fresh random nonce and signs the result. The
// nonce is random per call and never reused for the process key.
func (e *Envelope) Encrypt(plaintext []byte) (EncryptedPayload, error) {
	keys, err := e.material()
	if err != nil {
		return EncryptedPayload{}, err
	}

	nonce := make([]byte, envelopeNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedPayload{}, fmt.Errorf("security: nonce: %w", err)
	}

	ciphertext := keys.aead.Seal(nil, nonce, plaintext, nil)
	signature := ed25519.Sign(keys.signKey, signingInput(nonce, ciphertext))

	return EncryptedPayload{
		IV:            base64.StdEncoding.EncodeToString(nonce),
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		Signature:     base64.StdEncoding.EncodeToString(signature),
	}, nil
}

// Open verifies a payload's signature and then decrypts it. Verification runs
// first so attacker-controlled ciphertext is never fed to the cipher as a
// validity oracle. All failures collapse to ErrEnvelopeInvalid.
func (e *Envelope) Open(payload EncryptedPayload) ([]byte, error) {
	keys, err := e.material()
	if err != nil {
		return nil, err
	}

	nonce, ciphertext, signature, err := decodePayload(payload)
	if err != nil {
		return nil, ErrEnvelopeInvalid
	}
	if !ed25519.Verify(keys.pubKey, signingInput(nonce, ciphertext), signature) {
		return nil, ErrEnvelopeInvalid
	}

	plaintext, err := keys.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrEnvelopeInvalid
	}
	return plaintext, nil
}

// Verify checks only the asymmetric signature of a payload against the given
// base64 public key, the client-side half of the origin check.
func Verify(payload EncryptedPayload, publicKey string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	nonce, ciphertext, signature, err := decodePayload(payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), signingInput(nonce, ciphertext), signature)
}

func decodePayload(payload EncryptedPayload) (nonce, ciphertext, signature []byte, err error) {
	nonce, err = base64.StdEncoding.DecodeString(payload.IV)
	if err != nil || len(nonce) != envelopeNonceSize {
		return nil, nil, nil, ErrEnvelopeInvalid
	}
	ciphertext, err = base64.StdEncoding.DecodeString(payload.EncryptedData)
	if err != nil {
		return nil, nil, nil, ErrEnvelopeInvalid
	}
	signature, err = base64.StdEncoding.DecodeString(payload.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return nil, nil, nil, ErrEnvelopeInvalid
	}
	return nonce, ciphertext, signature, nil
}

func signingInput(nonce, ciphertext []byte) []byte {
	input := make([]byte, 0, len(nonce)+len(ciphertext))
	input = append(input, nonce...)
	return append(input, ciphertext...)
}
