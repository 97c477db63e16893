package oracle

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/travelpay/backend/internal/models"
	"go.uber.org/zap"
)

// Signer holds the oracle's ed25519 keypair and attests response payloads.
// The key lifecycle is init-or-generate-and-persist: verifiers fetch the
// public key once and must be able to trust it across restarts.
type Signer struct {
	priv   ed25519.PrivateKey
	pubHex string
	now    func() time.Time
	log    *zap.Logger
}

// NewSigner loads the signing key from keyHex if set, otherwise from
// keyFile; if neither exists a fresh keypair is generated and its seed
// persisted to keyFile.
func NewSigner(keyHex, keyFile string, log *zap.Logger) (*Signer, error) {
	seed, err := loadOrGenerateSeed(keyHex, keyFile, log)
	if err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	log.Info("oracle signer ready", zap.String("public_key", hex.EncodeToString(pub)))

	return &Signer{
		priv:   priv,
		pubHex: hex.EncodeToString(pub),
		now:    time.Now,
		log:    log,
	}, nil
}

func loadOrGenerateSeed(keyHex, keyFile string, log *zap.Logger) ([]byte, error) {
	if keyHex != "" {
		seed, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid ORACLE_PRIVATE_KEY hex: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ORACLE_PRIVATE_KEY must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return seed, nil
	}

	if raw, err := os.ReadFile(keyFile); err == nil {
		seed, err := hex.DecodeString(string(raw))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("key file %s is corrupt", keyFile)
		}
		log.Info("oracle signing key loaded", zap.String("key_file", keyFile))
		return seed, nil
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist signing key to %s: %w", keyFile, err)
	}
	log.Warn("generated new oracle signing key", zap.String("key_file", keyFile))
	return seed, nil
}

// PublicKeyHex returns the verification key handed to clients.
func (s *Signer) PublicKeyHex() string {
	return s.pubHex
}

// Sign canonicalizes data, hashes it and signs "data_hash:timestamp".
func (s *Signer) Sign(data any) (*models.SignedEnvelope, error) {
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}

	hash := sha256.Sum256(canonical)
	hashHex := hex.EncodeToString(hash[:])
	ts := s.now().Unix()

	message := fmt.Sprintf("%s:%d", hashHex, ts)
	sig := ed25519.Sign(s.priv, []byte(message))

	return &models.SignedEnvelope{
		Data:           data,
		DataHash:       hashHex,
		Timestamp:      ts,
		Signature:      hex.EncodeToString(sig),
		ProviderPubkey: s.pubHex,
	}, nil
}

// VerifyEnvelope checks an envelope using only its embedded public key. It
// is the exact inverse of Sign; third parties can reimplement it from the
// published recipe with any ed25519 library.
func VerifyEnvelope(env *models.SignedEnvelope) bool {
	if env == nil {
		return false
	}

	canonical, err := CanonicalJSON(env.Data)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(canonical)
	if hex.EncodeToString(hash[:]) != env.DataHash {
		return false
	}

	pub, err := hex.DecodeString(env.ProviderPubkey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	message := fmt.Sprintf("%s:%d", env.DataHash, env.Timestamp)
	return ed25519.Verify(pub, []byte(message), sig)
}
