package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/api"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/config"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/consensus"
	nodecrypto "github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/crypto"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/dispute"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/export"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/ledger"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/logging"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/publisher"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/registry"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/service"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/storage"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/storage/blockpostgres"
)

// Node is the in-process ledger engine with its configured block sinks.
type Node struct {
	Service *service.SupplyChainService
	MinerID string
	RunID   string
	sinks   []storage.BlockSink
}

// BuildNode assembles the ledger, registry, consensus round, dispute
// resolver and block sinks described by cfg, and registers the configured
// actors.
func BuildNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	minerID := cfg.Node.MinerID
	if minerID == "" {
		minerID = service.NewNodeIdentifier()
	}
	runID := uuid.NewString()

	l := ledger.New(ledger.Options{HonestyProbability: *cfg.Confirmation.HonestyProbability})
	reg := registry.New(registry.Options{
		ManufacturerAlias: cfg.Consensus.ManufacturerAlias,
		OnMiss: func(op, actorID string, amount int64) {
			logger.Warn("actor not registered",
				slog.String("op", op),
				slog.String("actor_id", actorID),
				slog.Int64("amount", amount),
			)
		},
	})
	if err := registerActors(reg, cfg, logger); err != nil {
		return nil, err
	}

	elector := consensus.NewRandomDelay(
		time.Duration(cfg.Consensus.MinWaitMS)*time.Millisecond,
		time.Duration(cfg.Consensus.MaxWaitMS)*time.Millisecond,
		nil,
	)
	round, err := consensus.NewRound(consensus.Params{
		Ledger:   l,
		Registry: reg,
		Elector:  elector,
		Reward:   *cfg.Consensus.MiningReward,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build consensus round: %w", err)
	}

	signer, err := loadSigner(cfg.Node.SigningPrivateKeyPath)
	if err != nil {
		return nil, err
	}
	logger.Info("block attestation key ready", slog.String("kid", signer.KeyID))

	sinks, err := openSinks(ctx, cfg, runID, logger)
	if err != nil {
		return nil, err
	}

	svc, err := service.NewSupplyChain(service.Params{
		Ledger:           l,
		Registry:         reg,
		Round:            round,
		Resolver:         dispute.New(reg, *cfg.Dispute.Penalty, logger),
		Sinks:            sinks,
		Signer:           signer,
		Logger:           logger,
		MinerID:          minerID,
		IncludeDiscarded: *cfg.Dispute.IncludeDiscarded,
		AutoMine:         *cfg.Consensus.AutoMine,
		MinPending:       cfg.Consensus.MinPending,
		PollInterval:     time.Duration(cfg.Consensus.PollIntervalMS) * time.Millisecond,
		Service:          cfg.Logging.Service,
		Version:          cfg.Logging.Version,
	})
	if err != nil {
		closeSinks(sinks)
		return nil, fmt.Errorf("build supply chain service: %w", err)
	}
	return &Node{Service: svc, MinerID: minerID, RunID: runID, sinks: sinks}, nil
}

// Close releases every block sink.
func (n *Node) Close() error {
	return closeSinks(n.sinks)
}

// loadSigner reads the configured key, or generates one for this run.
func loadSigner(path string) (*nodecrypto.Signer, error) {
	if path == "" {
		return nodecrypto.GenerateSigner()
	}
	signer, err := nodecrypto.LoadSigner(path)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	return signer, nil
}

func registerActors(reg *registry.Registry, cfg *config.Config, logger *slog.Logger) error {
	if m := cfg.Actors.Manufacturer; m != nil {
		if err := reg.RegisterManufacturer(m.ID, m.Deposit); err != nil {
			if !errors.Is(err, registry.ErrManufacturerRegistered) {
				return fmt.Errorf("register manufacturer: %w", err)
			}
			logger.Warn("manufacturer already registered", slog.String("actor_id", m.ID))
		}
	}
	for _, d := range cfg.Actors.Distributors {
		if err := reg.RegisterDistributor(d.ID, d.Deposit); err != nil {
			return fmt.Errorf("register distributor %s: %w", d.ID, err)
		}
	}
	for _, c := range cfg.Actors.Clients {
		if err := reg.RegisterClient(c.ID, c.Deposit); err != nil {
			return fmt.Errorf("register client %s: %w", c.ID, err)
		}
	}
	return nil
}

func openSinks(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger) ([]storage.BlockSink, error) {
	var sinks []storage.BlockSink
	if cfg.Storage.PostgresDSN != "" {
		store, err := blockpostgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns, runID)
		if err != nil {
			return nil, fmt.Errorf("open postgres block archive: %w", err)
		}
		sinks = append(sinks, store)
	}
	if cfg.Publisher.RedisURL != "" {
		pub, err := publisher.Dial(ctx, cfg.Publisher.RedisURL, cfg.Publisher.Topic, logger)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("open redis block publisher: %w", err)
		}
		logger.Info("publishing sealed blocks", slog.String("topic", pub.Topic()))
		sinks = append(sinks, pub)
	}
	if cfg.Export.QRDir != "" {
		qr, err := export.NewQRWriter(cfg.Export.QRDir)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, qr)
	}
	for _, s := range sinks {
		logger.Info("block sink enabled", slog.String("sink", s.Name()), slog.String("run_id", runID))
	}
	return sinks, nil
}

func closeSinks(sinks []storage.BlockSink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

type Application struct {
	Server *http.Server
	Node   *Node
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	node, err := BuildNode(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	handler := api.NewHandler(node.Service, logger)
	router := handler.Router()
	mw, err := api.IPAllowListMiddleware(cfg.Security.TrustedCIDRs)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("configure ip allow list: %w", err)
	}
	router = mw(router)
	router = api.BearerAuthMiddleware(cfg.Security.BearerToken)(router)
	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Region:  cfg.Logging.Region,
		NodeID:  node.MinerID,
		State: func() map[string]any {
			chainLength, pending := node.Service.Counts()
			return map[string]any{"chain_length": chainLength, "pending": pending}
		},
	}
	root := logging.Middleware(logger, env)(router)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{Server: server, Node: node}, nil
}

// Shutdown stops the HTTP server. Block sinks stay open until Close so a
// round still archiving can finish.
func (a *Application) Shutdown(ctx context.Context) error {
	return a.Server.Shutdown(ctx)
}

// Close releases the node's block sinks. Call it once every caller of the
// service has returned.
func (a *Application) Close() error {
	return a.Node.Close()
}
