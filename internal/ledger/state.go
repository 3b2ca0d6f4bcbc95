package ledger

import "github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"

// DefaultHonestyProbability is the chance a confirmation reflects what
// actually happened to the goods.
const DefaultHonestyProbability = 0.7

// Transition describes what a confirmation call did to a transaction.
type Transition string

const (
	// TransitionNone means the guard did not hold and nothing changed.
	TransitionNone Transition = "none"
	// TransitionHonest means the claim and the observed state agree.
	TransitionHonest Transition = "honest"
	// TransitionFalseDispatchClaim means the distributor confirmed a
	// dispatch that never happened.
	TransitionFalseDispatchClaim Transition = "false_dispatch_claim"
	// TransitionReceiptDenied means the client confirmed without the
	// received flag being set.
	TransitionReceiptDenied Transition = "receipt_denied"
)

// Rand is the randomness a StateMachine draws from. *math/rand.Rand
// satisfies it.
type Rand interface {
	Float64() float64
}

// StateMachine drives the confirmation flags of a transaction. It is not
// safe for concurrent use; the Ledger calls it while holding its lock.
type StateMachine struct {
	honesty float64
	rand    Rand
}

func NewStateMachine(honesty float64, r Rand) *StateMachine {
	if honesty < 0 {
		honesty = 0
	}
	if honesty > 1 {
		honesty = 1
	}
	return &StateMachine{honesty: honesty, rand: r}
}

// ConfirmDispatch applies a distributor's dispatch confirmation. It only
// acts on a transaction that has neither been confirmed by the distributor
// nor dispatched.
func (m *StateMachine) ConfirmDispatch(tx *protocol.Transaction) Transition {
	if tx.ConfirmedByDistributor || tx.Dispatched {
		return TransitionNone
	}
	if m.honest() {
		tx.ConfirmedByDistributor = true
		tx.Dispatched = true
		return TransitionHonest
	}
	tx.ConfirmedByDistributor = true
	return TransitionFalseDispatchClaim
}

// ConfirmReception applies a client's reception confirmation. It only acts
// on a dispatched transaction that is not yet confirmed or received.
func (m *StateMachine) ConfirmReception(tx *protocol.Transaction) Transition {
	if tx.ConfirmedByConsumer || !tx.Dispatched || tx.Received {
		return TransitionNone
	}
	if m.honest() {
		tx.ConfirmedByConsumer = true
		tx.Received = true
		return TransitionHonest
	}
	tx.ConfirmedByConsumer = true
	return TransitionReceiptDenied
}

func (m *StateMachine) honest() bool {
	return m.rand.Float64() < m.honesty
}
