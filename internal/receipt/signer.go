// Package receipt signs verification receipts with the gateway's Ed25519 key.
package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"sync"

	"zkdpp/internal/domain"
	"zkdpp/pkg/config"
	"zkdpp/pkg/errors"
	"zkdpp/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// claims is the signed JWT body. Only the minimal receipt surface is covered.
type claims struct {
	PredicateID    string `json:"pid"`
	CommitmentRoot string `json:"root"`
	Result         bool   `json:"result"`
	jwt.RegisteredClaims
}

// Signer holds the private key for the lifetime of the process. The key never leaves
// this type and is zeroed by Close.
type Signer struct {
	mu     sync.RWMutex
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	keyID  string
	closed bool
}

// NewSigner wraps an existing key. An empty keyID is derived from the public key.
func NewSigner(priv ed25519.PrivateKey, keyID string) (*Signer, error) {
	key, err := checkedPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	if keyID == "" {
		keyID = DeriveKeyID(pub)
	}
	return &Signer{priv: key, pub: pub, keyID: keyID}, nil
}

// NewSignerFromConfig loads the signing key from a hex seed, a PEM file, or, when
// explicitly allowed, generates a throwaway key.
func NewSignerFromConfig(cfg config.ReceiptConfig, log logger.Logger) (*Signer, error) {
	switch {
	case cfg.SigningKey != "":
		priv, err := ParsePrivateKeyHex(cfg.SigningKey)
		if err != nil {
			return nil, err
		}
		return NewSigner(priv, cfg.KeyID)
	case cfg.SigningKeyFile != "":
		data, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read signing key file")
		}
		priv, err := ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, err
		}
		return NewSigner(priv, cfg.KeyID)
	case cfg.AllowEphemeralKey:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		s, err := NewSigner(priv, cfg.KeyID)
		if err != nil {
			return nil, err
		}
		log.Error("Using EPHEMERAL receipt signing key: NOT FOR PRODUCTION, receipts will not verify after restart", map[string]interface{}{
			"key_id": s.KeyID(),
		})
		return s, nil
	default:
		return nil, errors.ErrSigningKeyMissing
	}
}

// ParsePrivateKeyHex accepts a 32-byte seed or a 64-byte private key in hex.
func ParsePrivateKeyHex(s string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidSigningKey, "not hex")
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return checkedPrivateKey(raw)
	default:
		return nil, errors.Wrap(errors.ErrInvalidSigningKey, fmt.Sprintf("unexpected key length %d", len(raw)))
	}
}

// checkedPrivateKey rebuilds a 64-byte key from its seed and requires the stored public
// half to match.
func checkedPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.ErrInvalidSigningKey
	}
	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, errors.Wrap(errors.ErrInvalidSigningKey, "public key does not match seed")
	}
	return key, nil
}

// ParsePrivateKeyPEM reads a PKCS#8 Ed25519 private key.
func ParsePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidSigningKey, err.Error())
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.ErrInvalidSigningKey
	}
	return priv, nil
}

// ParsePublicKeyPEM reads a PKIX Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	key, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidSigningKey, err.Error())
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.ErrInvalidSigningKey
	}
	return pub, nil
}

// EncodePEM renders a key pair as PKCS#8 and PKIX PEM blocks.
func EncodePEM(priv ed25519.PrivateKey) (privPEM, pubPEM []byte, err error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(priv.Public())
	if err != nil {
		return nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}

// DeriveKeyID is the hex of the first eight bytes of SHA-256 over the public key.
func DeriveKeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// Sign produces a compact EdDSA JWS over the receipt claims.
func (s *Signer) Sign(c domain.ReceiptClaims) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", errors.ErrSignerClosed
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims{
		PredicateID:    c.PredicateID,
		CommitmentRoot: c.CommitmentRoot,
		Result:         c.Result,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       c.ReceiptID.String(),
			IssuedAt: jwt.NewNumericDate(c.IssuedAt),
		},
	})
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}
	return signed, nil
}

// Verify checks a receipt signature against this signer's public key.
func (s *Signer) Verify(token string) (domain.ReceiptClaims, error) {
	return Verify(token, s.PublicKey())
}

// Verify checks a receipt signature against pub and returns the signed claims.
func Verify(token string, pub ed25519.PublicKey) (domain.ReceiptClaims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil || !parsed.Valid {
		return domain.ReceiptClaims{}, errors.Wrap(errors.ErrInvalidReceipt, fmt.Sprint(err))
	}

	id, err := uuid.Parse(c.ID)
	if err != nil {
		return domain.ReceiptClaims{}, errors.Wrap(errors.ErrInvalidReceipt, "receipt id")
	}
	out := domain.ReceiptClaims{
		ReceiptID:      id,
		PredicateID:    c.PredicateID,
		CommitmentRoot: c.CommitmentRoot,
		Result:         c.Result,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time.UTC()
	}
	return out, nil
}

// PublicKey returns a copy of the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(s.pub))
	copy(out, s.pub)
	return out
}

func (s *Signer) KeyID() string { return s.keyID }

// JWK describes the public key for receipt consumers.
type JWK struct {
	KeyType   string `json:"kty"`
	Curve     string `json:"crv"`
	Algorithm string `json:"alg"`
	Use       string `json:"use"`
	KeyID     string `json:"kid"`
	X         string `json:"x"`
}

// JWK returns the public key in JSON Web Key form.
func (s *Signer) JWK() JWK {
	return JWK{
		KeyType:   "OKP",
		Curve:     "Ed25519",
		Algorithm: jwt.SigningMethodEdDSA.Alg(),
		Use:       "sig",
		KeyID:     s.keyID,
		X:         base64.RawURLEncoding.EncodeToString(s.pub),
	}
}

// Close zeroes the private key. Sign fails afterwards.
func (s *Signer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.priv {
		s.priv[i] = 0
	}
	s.closed = true
}
