package dispute

import (
	"errors"
	"log/slog"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/registry"
)

// DefaultPenalty is debited from the party found lying about a delivery.
const DefaultPenalty int64 = 50

const (
	ReasonReceiptDenied = "client_denied_receipt"
	ReasonFalseDispatch = "distributor_false_dispatch"
)

type Registry interface {
	IsDistributor(id string) bool
	IsClient(id string) bool
	Debit(kind protocol.ActorKind, id string, amount int64) (protocol.Actor, error)
}

// Resolver compares claimed against observed delivery state and debits the
// dishonest party.
type Resolver struct {
	registry Registry
	penalty  int64
	logger   *slog.Logger
}

func New(reg Registry, penalty int64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{registry: reg, penalty: penalty, logger: logger}
}

// Resolve inspects txs in order and returns one Penalty per dispute found.
// A penalty whose party is not registered is returned with Applied false.
func (r *Resolver) Resolve(txs []protocol.Transaction) []protocol.Penalty {
	penalties := make([]protocol.Penalty, 0)
	for _, tx := range txs {
		distributor := tx.Recipient
		if r.registry.IsDistributor(tx.Sender) {
			distributor = tx.Sender
		}
		client := tx.Sender
		if r.registry.IsClient(tx.Recipient) {
			client = tx.Recipient
		}

		switch {
		case tx.Dispatched && tx.Received && !tx.ConfirmedByConsumer:
			r.logger.Warn("delivery issue: client denies a received product",
				slog.String("distributor", distributor),
				slog.String("client", client),
				slog.String("product", tx.Product),
			)
			penalties = append(penalties, r.debit(protocol.ActorClient, client, ReasonReceiptDenied, tx))
		case !tx.Dispatched && !tx.Received && tx.ConfirmedByConsumer:
			if !tx.ConfirmedByDistributor {
				r.logger.Info("false dispatch claim already flagged at confirmation",
					slog.String("distributor", distributor),
					slog.String("product", tx.Product),
				)
				continue
			}
			r.logger.Warn("delivery issue: distributor confirmed a dispatch that never happened",
				slog.String("distributor", distributor),
				slog.String("client", client),
				slog.String("product", tx.Product),
			)
			penalties = append(penalties, r.debit(protocol.ActorDistributor, distributor, ReasonFalseDispatch, tx))
		}
	}
	return penalties
}

func (r *Resolver) debit(kind protocol.ActorKind, id, reason string, tx protocol.Transaction) protocol.Penalty {
	p := protocol.Penalty{
		ActorID:     id,
		Kind:        kind,
		Amount:      r.penalty,
		Reason:      reason,
		Transaction: tx,
	}
	actor, err := r.registry.Debit(kind, id, r.penalty)
	if err != nil {
		if !errors.Is(err, registry.ErrUnknownActor) {
			r.logger.Error("penalty debit failed", slog.String("actor_id", id), slog.String("error", err.Error()))
		} else {
			r.logger.Warn("penalty skipped for unknown actor", slog.String("actor_id", id), slog.String("kind", string(kind)))
		}
		return p
	}
	p.Applied = true
	r.logger.Info("security deposit debited",
		slog.String("actor_id", id),
		slog.String("kind", string(kind)),
		slog.Int64("amount", r.penalty),
		slog.Int64("security_deposit", actor.Deposit),
	)
	return p
}
