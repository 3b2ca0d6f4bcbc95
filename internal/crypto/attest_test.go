package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAttestBlockRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner error: %v", err)
	}
	att, err := s.AttestBlock(2, "abc123", "Distributor1")
	if err != nil {
		t.Fatalf("AttestBlock error: %v", err)
	}
	if !strings.HasPrefix(att.KeyID, "ed25519:") || att.Signature == "" {
		t.Fatalf("unexpected attestation: %+v", att)
	}
	if !VerifyAttestation(s.PublicKey(), att) {
		t.Fatal("attestation should verify")
	}
	att.Miner = "Client1"
	if VerifyAttestation(s.PublicKey(), att) {
		t.Fatal("tampered attestation must not verify")
	}
}

func TestLoadSignerFormats(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	want := NewSigner(ed25519.NewKeyFromSeed(seed)).KeyID
	dir := t.TempDir()

	seedPath := filepath.Join(dir, "seed.b64")
	if err := os.WriteFile(seedPath, []byte(base64.StdEncoding.EncodeToString(seed)+"\n"), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	s, err := LoadSigner(seedPath)
	if err != nil || s.KeyID != want {
		t.Fatalf("LoadSigner(seed) = %v, %v", s, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pemPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(pemPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write pem: %v", err)
	}
	s, err = LoadSigner(pemPath)
	if err != nil || s.KeyID != want {
		t.Fatalf("LoadSigner(pem) = %v, %v", s, err)
	}

	badPath := filepath.Join(dir, "bad")
	_ = os.WriteFile(badPath, []byte(base64.StdEncoding.EncodeToString([]byte("short"))), 0o600)
	if _, err := LoadSigner(badPath); err == nil {
		t.Fatal("expected key length error")
	}
}
