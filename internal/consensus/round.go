package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/ledger"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/registry"
)

// DefaultMiningReward is the flat deposit credit for sealing a block.
const DefaultMiningReward int64 = 10

type Sealer interface {
	SealBlock(miner string) (ledger.SealResult, error)
}

type Crediter interface {
	Credit(id string, amount int64) (protocol.Actor, error)
}

type Params struct {
	Ledger   Sealer
	Registry Crediter
	Elector  LeaderElector
	Reward   int64
	Logger   *slog.Logger
}

// Round runs one block-production cycle: elect, wait, seal, reward.
type Round struct {
	ledger   Sealer
	registry Crediter
	elector  LeaderElector
	reward   int64
	logger   *slog.Logger
}

type Result struct {
	Miner    string
	Waited   time.Duration
	Seal     ledger.SealResult
	Credited bool
	// Deposit is the miner's balance after the credit, zero when uncredited.
	Deposit int64
}

func NewRound(params Params) (*Round, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if params.Elector == nil {
		return nil, fmt.Errorf("elector is required")
	}
	if params.Reward < 0 {
		return nil, fmt.Errorf("reward must not be negative")
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Round{
		ledger:   params.Ledger,
		registry: params.Registry,
		elector:  params.Elector,
		reward:   params.Reward,
		logger:   params.Logger,
	}, nil
}

// Run elects miner, seals the pending pool and credits the winner. No lock
// is held during the election wait; a cancelled ctx before or after the wait
// aborts the round without sealing.
func (r *Round) Run(ctx context.Context, miner string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	winner, waited, err := r.elector.ElectLeader(ctx, []string{miner})
	if err != nil {
		return Result{}, fmt.Errorf("elect leader: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	seal, err := r.ledger.SealBlock(winner)
	if err != nil {
		return Result{}, fmt.Errorf("seal block: %w", err)
	}
	res := Result{Miner: winner, Waited: waited, Seal: seal}
	r.logger.Info("block sealed",
		slog.Int64("block_index", seal.Block.Index),
		slog.String("block_hash", seal.Hash),
		slog.String("miner", winner),
		slog.Int("transactions", len(seal.Block.Transactions)),
		slog.Int("discarded", len(seal.Discarded)),
		slog.Int64("waited_ms", waited.Milliseconds()),
	)

	actor, err := r.registry.Credit(winner, r.reward)
	switch {
	case err == nil:
		res.Credited = true
		res.Deposit = actor.Deposit
		r.logger.Info("mining reward credited",
			slog.String("miner", winner),
			slog.String("kind", string(actor.Kind)),
			slog.Int64("reward", r.reward),
			slog.Int64("security_deposit", actor.Deposit),
		)
	case errors.Is(err, registry.ErrUnknownActor):
		r.logger.Warn("mining reward skipped for unknown miner", slog.String("miner", winner))
	default:
		return res, fmt.Errorf("credit miner: %w", err)
	}
	return res, nil
}
