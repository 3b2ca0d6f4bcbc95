package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/config"
	nodecrypto "github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/crypto"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Consensus.MinWaitMS = 0
	cfg.Consensus.MaxWaitMS = 0
	cfg.Node.MinerID = "Distributor1"
	cfg.Actors.Manufacturer = &config.Actor{ID: "Manufacturer1", Deposit: 1000}
	cfg.Actors.Distributors = []config.Actor{{ID: "Distributor1", Deposit: 500}}
	cfg.Actors.Clients = []config.Actor{{ID: "Client1", Deposit: 200}}
	return cfg
}

func TestBuildNodeRegistersConfiguredActors(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	node, err := BuildNode(context.Background(), testConfig(t), logger)
	if err != nil {
		t.Fatalf("BuildNode error: %v", err)
	}
	defer node.Close()

	actors := node.Service.Actors(context.Background())
	if len(actors) != 3 || actors[0].Kind != protocol.ActorManufacturer {
		t.Fatalf("unexpected actors: %+v", actors)
	}
	if node.RunID == "" || node.MinerID != "Distributor1" {
		t.Fatalf("unexpected node identity: run=%q miner=%q", node.RunID, node.MinerID)
	}

	round, err := node.Service.RunRound(context.Background(), "")
	if err != nil {
		t.Fatalf("RunRound error: %v", err)
	}
	if round.Miner != "Distributor1" || !round.Credited {
		t.Fatalf("unexpected round: %+v", round)
	}
	health, err := node.Service.Health(context.Background())
	if err != nil {
		t.Fatalf("Health error: %v", err)
	}
	if round.Attestation == nil || round.Attestation.BlockHash != round.BlockHash {
		t.Fatalf("expected attestation for sealed block, got %+v", round.Attestation)
	}
	if !nodecrypto.VerifyAttestation(health.PublicKey, *round.Attestation) {
		t.Fatal("attestation does not verify against the node key")
	}
}

func TestBuildNodeWritesQRImages(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := testConfig(t)
	cfg.Export.QRDir = filepath.Join(t.TempDir(), "blocks")
	node, err := BuildNode(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("BuildNode error: %v", err)
	}
	defer node.Close()

	round, err := node.Service.RunRound(context.Background(), "Manufacturer")
	if err != nil {
		t.Fatalf("RunRound error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Export.QRDir, "block_2.png")); err != nil {
		t.Fatalf("expected QR image for block %d: %v", round.Block.Index, err)
	}
}

func TestNewRejectsInvalidCIDR(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := testConfig(t)
	cfg.Security.TrustedCIDRs = []string{"nope"}
	if _, err := New(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected allow list error")
	}
}

type closeTrackingSink struct {
	closed bool
}

func (s *closeTrackingSink) Name() string { return "tracking" }

func (s *closeTrackingSink) Archive(context.Context, protocol.Block, string) error { return nil }

func (s *closeTrackingSink) Close() error {
	s.closed = true
	return nil
}

func TestShutdownKeepsSinksOpenUntilClose(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	application, err := New(context.Background(), testConfig(t), logger)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	sink := &closeTrackingSink{}
	application.Node.sinks = append(application.Node.sinks, sink)

	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if sink.closed {
		t.Fatal("Shutdown closed block sinks")
	}
	if _, err := application.Node.Service.RunRound(context.Background(), ""); err != nil {
		t.Fatalf("RunRound after Shutdown error: %v", err)
	}
	if err := application.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !sink.closed {
		t.Fatal("Close did not release block sinks")
	}
}
