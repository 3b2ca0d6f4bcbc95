package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
)

// Signer attests to the blocks sealed by this node.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	KeyID   string
}

func NewSigner(priv ed25519.PrivateKey) *Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{private: priv, public: pub, KeyID: keyID(pub)}
}

// GenerateSigner creates a signer with a fresh key that lives as long as the
// process.
func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return NewSigner(priv), nil
}

// LoadSigner reads a PKCS#8 PEM or base64 seed/private key from path.
func LoadSigner(path string) (*Signer, error) {
	priv, err := loadPrivateKey(path)
	if err != nil {
		return nil, err
	}
	return NewSigner(priv), nil
}

func (s *Signer) PublicKey() string {
	return base64.RawURLEncoding.EncodeToString(s.public)
}

// AttestBlock signs the canonical form of the block's index, hash and miner.
func (s *Signer) AttestBlock(index int64, hash, miner string) (protocol.BlockAttestation, error) {
	att := protocol.BlockAttestation{BlockIndex: index, BlockHash: hash, Miner: miner, KeyID: s.KeyID}
	payload, err := attestationPayload(att)
	if err != nil {
		return protocol.BlockAttestation{}, err
	}
	att.Signature = base64.RawURLEncoding.EncodeToString(ed25519.Sign(s.private, payload))
	return att, nil
}

// VerifyAttestation checks att against the base64url public key pub.
func VerifyAttestation(pub string, att protocol.BlockAttestation) bool {
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(pub))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(att.Signature)
	if err != nil {
		return false
	}
	payload, err := attestationPayload(att)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key), payload, sig)
}

func attestationPayload(att protocol.BlockAttestation) ([]byte, error) {
	return protocol.CanonicalJSON(struct {
		BlockIndex int64  `json:"block_index"`
		BlockHash  string `json:"block_hash"`
		Miner      string `json:"miner"`
		KeyID      string `json:"kid"`
	}{att.BlockIndex, att.BlockHash, att.Miner, att.KeyID})
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	data := strings.TrimSpace(string(buf))
	if strings.HasPrefix(data, "-----BEGIN") {
		block, _ := pem.Decode(buf)
		if block == nil {
			return nil, errors.New("invalid private key pem")
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
		}
		pk, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not ed25519")
		}
		return pk, nil
	}
	b, err := decodeLooseBase64(data)
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("private key length %d invalid", len(b))
	}
}

func decodeLooseBase64(s string) ([]byte, error) {
	candidates := []func(string) ([]byte, error){
		base64.RawURLEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.StdEncoding.DecodeString,
	}
	for _, fn := range candidates {
		if b, err := fn(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("key is not valid base64")
}

func keyID(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(h[:8])
}
