package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/consensus"
	nodecrypto "github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/crypto"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/dispute"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/ledger"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/registry"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/storage"
)

const (
	DefaultMinPending   = 2
	DefaultPollInterval = time.Second
	sinkTimeout         = 10 * time.Second
)

type SupplyChainService struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	round    *consensus.Round
	resolver *dispute.Resolver
	sinks    []storage.BlockSink
	signer   *nodecrypto.Signer
	logger   *slog.Logger

	minerID          string
	includeDiscarded bool
	autoMine         bool
	minPending       int
	pollInterval     time.Duration
	service          string
	version          string

	// roundMu keeps consensus rounds from overlapping. It is never taken
	// by ledger or registry operations.
	roundMu sync.Mutex
}

type Params struct {
	Ledger           *ledger.Ledger
	Registry         *registry.Registry
	Round            *consensus.Round
	Resolver         *dispute.Resolver
	Sinks            []storage.BlockSink
	Signer           *nodecrypto.Signer
	Logger           *slog.Logger
	MinerID          string
	IncludeDiscarded bool
	AutoMine         bool
	MinPending       int
	PollInterval     time.Duration
	Service          string
	Version          string
}

func NewSupplyChain(params Params) (*SupplyChainService, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if params.Round == nil {
		return nil, fmt.Errorf("consensus round is required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("dispute resolver is required")
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.MinPending <= 0 {
		params.MinPending = DefaultMinPending
	}
	if params.PollInterval <= 0 {
		params.PollInterval = DefaultPollInterval
	}
	if params.Service == "" {
		params.Service = "supplychain-node"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	return &SupplyChainService{
		ledger:           params.Ledger,
		registry:         params.Registry,
		round:            params.Round,
		resolver:         params.Resolver,
		sinks:            params.Sinks,
		signer:           params.Signer,
		logger:           params.Logger,
		minerID:          strings.TrimSpace(params.MinerID),
		includeDiscarded: params.IncludeDiscarded,
		autoMine:         params.AutoMine,
		minPending:       params.MinPending,
		pollInterval:     params.PollInterval,
		service:          params.Service,
		version:          params.Version,
	}, nil
}

// NewNodeIdentifier returns a random miner id in uuid hex form.
func NewNodeIdentifier() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *SupplyChainService) RegisterManufacturer(_ context.Context, req protocol.RegisterActorRequest) (protocol.Actor, error) {
	err := s.registry.RegisterManufacturer(req.ID, req.Deposit)
	if errors.Is(err, registry.ErrManufacturerRegistered) {
		s.logger.Warn("manufacturer registration ignored", slog.String("actor_id", req.ID), slog.String("error", err.Error()))
		return protocol.Actor{}, Conflict("MANUFACTURER_ALREADY_REGISTERED", "a manufacturer is already registered", err)
	}
	return s.registered(protocol.ActorManufacturer, req, err)
}

func (s *SupplyChainService) RegisterDistributor(_ context.Context, req protocol.RegisterActorRequest) (protocol.Actor, error) {
	return s.registered(protocol.ActorDistributor, req, s.registry.RegisterDistributor(req.ID, req.Deposit))
}

func (s *SupplyChainService) RegisterClient(_ context.Context, req protocol.RegisterActorRequest) (protocol.Actor, error) {
	return s.registered(protocol.ActorClient, req, s.registry.RegisterClient(req.ID, req.Deposit))
}

func (s *SupplyChainService) registered(kind protocol.ActorKind, req protocol.RegisterActorRequest, err error) (protocol.Actor, error) {
	if errors.Is(err, registry.ErrInvalidActor) {
		return protocol.Actor{}, BadRequest(err.Error(), err)
	}
	if err != nil {
		return protocol.Actor{}, Internal("register actor", err)
	}
	actor := protocol.Actor{ID: strings.TrimSpace(req.ID), Kind: kind, Deposit: req.Deposit}
	s.logger.Info("actor registered",
		slog.String("actor_id", actor.ID),
		slog.String("kind", string(kind)),
		slog.Int64("security_deposit", actor.Deposit),
	)
	return actor, nil
}

func (s *SupplyChainService) Actor(_ context.Context, id string) (protocol.Actor, error) {
	actor, ok := s.registry.Lookup(id)
	if !ok {
		return protocol.Actor{}, NotFound("ACTOR_NOT_FOUND", fmt.Sprintf("actor %q is not registered", id))
	}
	return actor, nil
}

func (s *SupplyChainService) Actors(_ context.Context) []protocol.Actor {
	return s.registry.Actors()
}

func (s *SupplyChainService) SubmitTransaction(_ context.Context, req protocol.SubmitTransactionRequest) (protocol.SubmitTransactionResponse, error) {
	idx, err := s.ledger.SubmitTransaction(req.Sender, req.Recipient, req.Product, req.Price)
	if errors.Is(err, ledger.ErrInvalidTransaction) {
		return protocol.SubmitTransactionResponse{}, BadRequest(err.Error(), err)
	}
	if err != nil {
		return protocol.SubmitTransactionResponse{}, Internal("submit transaction", err)
	}
	s.logger.Debug("transaction submitted",
		slog.String("sender", req.Sender),
		slog.String("recipient", req.Recipient),
		slog.String("product", req.Product),
		slog.Int("pending_index", idx),
	)
	return protocol.SubmitTransactionResponse{PendingIndex: idx}, nil
}

func (s *SupplyChainService) Pending(_ context.Context) protocol.PendingResponse {
	txs := s.ledger.Pending()
	out := protocol.PendingResponse{Count: len(txs), Transactions: make([]protocol.PendingTransaction, 0, len(txs))}
	for i, tx := range txs {
		out.Transactions = append(out.Transactions, protocol.PendingTransaction{PendingIndex: i + 1, Transaction: tx})
	}
	return out
}

func (s *SupplyChainService) ConfirmDispatch(_ context.Context, index int) (protocol.ConfirmationResponse, error) {
	tr, tx, err := s.ledger.ConfirmDispatch(index)
	if err != nil {
		return protocol.ConfirmationResponse{}, confirmationError(index, err)
	}
	if tr == ledger.TransitionFalseDispatchClaim {
		s.logger.Warn("distributor claims a dispatch that did not happen",
			slog.String("distributor", tx.Sender),
			slog.String("product", tx.Product),
			slog.Int("pending_index", index),
		)
	}
	return protocol.ConfirmationResponse{PendingIndex: index, Transition: string(tr), Transaction: tx}, nil
}

func (s *SupplyChainService) ConfirmReception(_ context.Context, index int) (protocol.ConfirmationResponse, error) {
	tr, tx, err := s.ledger.ConfirmReception(index)
	if err != nil {
		return protocol.ConfirmationResponse{}, confirmationError(index, err)
	}
	if tr == ledger.TransitionReceiptDenied {
		s.logger.Warn("client confirmed a product it has not received",
			slog.String("client", tx.Recipient),
			slog.String("product", tx.Product),
			slog.Int("pending_index", index),
		)
	}
	return protocol.ConfirmationResponse{PendingIndex: index, Transition: string(tr), Transaction: tx}, nil
}

func confirmationError(index int, err error) error {
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return NotFound("TRANSACTION_NOT_FOUND", fmt.Sprintf("no pending transaction at index %d", index))
	}
	return Internal("confirm transaction", err)
}

// RunRound performs one consensus round for miner, or for the node's own
// identifier when miner is empty, and hands the sealed block to every sink.
func (s *SupplyChainService) RunRound(ctx context.Context, miner string) (protocol.RoundResponse, error) {
	miner = strings.TrimSpace(miner)
	if miner == "" {
		miner = s.minerID
	}
	if miner == "" {
		miner = NewNodeIdentifier()
	}

	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	res, err := s.round.Run(ctx, miner)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return protocol.RoundResponse{}, NewAppError(http.StatusServiceUnavailable, "ROUND_CANCELLED", "consensus round cancelled before sealing", true, err)
	}
	if err != nil && res.Seal.Hash == "" {
		return protocol.RoundResponse{}, Internal("run consensus round", err)
	}
	failed := s.archive(ctx, res.Seal)
	if err != nil {
		return protocol.RoundResponse{}, Internal("credit mining reward", err)
	}

	resp := protocol.RoundResponse{
		Miner:        res.Miner,
		WaitedMS:     res.Waited.Milliseconds(),
		Block:        res.Seal.Block,
		BlockHash:    res.Seal.Hash,
		Credited:     res.Credited,
		Discarded:    len(res.Seal.Discarded),
		SinkFailures: failed,
	}
	if s.signer != nil {
		att, err := s.signer.AttestBlock(res.Seal.Block.Index, res.Seal.Hash, res.Miner)
		if err != nil {
			s.logger.Error("block attestation failed", slog.Int64("block_index", res.Seal.Block.Index), slog.String("error", err.Error()))
		} else {
			resp.Attestation = &att
		}
	}
	return resp, nil
}

// archive fans the sealed block out to every sink and returns how many
// failed. A sink failure is logged; the block stays on the chain.
func (s *SupplyChainService) archive(ctx context.Context, seal ledger.SealResult) int {
	if len(s.sinks) == 0 {
		return 0
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	var failed atomic.Int32
	var g errgroup.Group
	for _, sink := range s.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Archive(sinkCtx, seal.Block, seal.Hash); err != nil {
				failed.Add(1)
				s.logger.Error("block sink failed",
					slog.String("sink", sink.Name()),
					slog.Int64("block_index", seal.Block.Index),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	// Workers never return an error; failures are counted above.
	g.Wait()
	s.logger.Info("block archived",
		slog.Int64("block_index", seal.Block.Index),
		slog.Int("sinks", len(s.sinks)),
		slog.Int("failed", int(failed.Load())),
	)
	return int(failed.Load())
}

// ResolveDisputes inspects the batch of the most recent seal once. Calling
// it again before the next seal finds nothing to inspect.
func (s *SupplyChainService) ResolveDisputes(_ context.Context) protocol.ResolveResponse {
	batch, discarded := s.ledger.DrainBatch()
	txs := batch
	if s.includeDiscarded {
		txs = append(txs, discarded...)
	}
	penalties := s.resolver.Resolve(txs)
	applied := 0
	for _, p := range penalties {
		if p.Applied {
			applied++
		}
	}
	s.logger.Info("disputes resolved",
		slog.Int("inspected", len(txs)),
		slog.Int("penalties", len(penalties)),
		slog.Int("applied", applied),
	)
	return protocol.ResolveResponse{Inspected: len(txs), Penalties: penalties}
}

func (s *SupplyChainService) Chain(_ context.Context) protocol.ChainResponse {
	blocks := s.ledger.Blocks()
	return protocol.ChainResponse{Length: len(blocks), Blocks: blocks}
}

func (s *SupplyChainService) Block(_ context.Context, index int64) (protocol.Block, error) {
	b, ok := s.ledger.Block(index)
	if !ok {
		return protocol.Block{}, NotFound("BLOCK_NOT_FOUND", fmt.Sprintf("block %d not found", index))
	}
	return b, nil
}

// Counts returns the chain length and pending pool size.
func (s *SupplyChainService) Counts() (chainLength, pending int) {
	return s.ledger.Len(), s.ledger.PendingCount()
}

func (s *SupplyChainService) VerifyChain(_ context.Context) protocol.VerifyChainResponse {
	blocks := s.ledger.Blocks()
	if err := ledger.VerifyChain(blocks); err != nil {
		return protocol.VerifyChainResponse{Status: "invalid", Length: len(blocks), Details: err.Error()}
	}
	return protocol.VerifyChainResponse{Status: "ok", Length: len(blocks)}
}

func (s *SupplyChainService) Health(_ context.Context) (protocol.HealthResponse, error) {
	hash, err := ledger.Hash(s.ledger.LastBlock())
	if err != nil {
		return protocol.HealthResponse{}, Internal("hash latest block", err)
	}
	resp := protocol.HealthResponse{
		Service:     s.service,
		Version:     s.version,
		Status:      "ok",
		ChainLength: s.ledger.Len(),
		Pending:     s.ledger.PendingCount(),
		LatestHash:  hash,
		AutoMine:    s.autoMine,
	}
	if s.signer != nil {
		resp.KeyID = s.signer.KeyID
		resp.PublicKey = s.signer.PublicKey()
	}
	return resp, nil
}

// RunAutoMine seals a block and resolves its disputes whenever the pending
// pool reaches the configured size. It returns nil once ctx is done, and
// immediately when auto-mining is disabled.
func (s *SupplyChainService) RunAutoMine(ctx context.Context) error {
	if !s.autoMine {
		return nil
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	s.logger.Info("auto-mine enabled",
		slog.Int("min_pending", s.minPending),
		slog.Int64("poll_interval_ms", s.pollInterval.Milliseconds()),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if s.ledger.PendingCount() < s.minPending {
			continue
		}
		if _, err := s.RunRound(ctx, ""); err != nil {
			if IsCode(err, "ROUND_CANCELLED") {
				return nil
			}
			s.logger.Error("auto-mine round failed", slog.String("error", err.Error()))
			continue
		}
		s.ResolveDisputes(ctx)
	}
}
