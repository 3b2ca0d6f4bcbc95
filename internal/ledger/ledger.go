package ledger

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found in pending pool")
	ErrInvalidTransaction  = errors.New("invalid transaction")
)

type Options struct {
	// HonestyProbability is the chance in [0,1] that a confirmation is
	// truthful. See DefaultHonestyProbability.
	HonestyProbability float64
	Rand               Rand
	Now                func() time.Time
}

// SealResult is what a seal produced: the appended block and the pending
// transactions that were not eligible and got dropped from the pool.
type SealResult struct {
	Block     protocol.Block
	Hash      string
	Discarded []protocol.Transaction
}

// Ledger owns the chain and the pending pool. All methods are safe for
// concurrent use; every mutation happens under a single lock.
type Ledger struct {
	mu        sync.Mutex
	chain     []protocol.Block
	pending   []protocol.Transaction
	batch     []protocol.Transaction
	discarded []protocol.Transaction
	machine   *StateMachine
	now       func() time.Time
}

// New builds a Ledger holding only the genesis block.
func New(opts Options) *Ledger {
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		machine: NewStateMachine(opts.HonestyProbability, r),
		now:     now,
	}
	l.createGenesisBlock()
	return l
}

func (l *Ledger) createGenesisBlock() {
	l.chain = append(l.chain, protocol.Block{
		Index:        1,
		Timestamp:    l.timestamp(),
		Transactions: []protocol.Transaction{},
		PreviousHash: protocol.GenesisPreviousHash,
	})
}

// Hash returns the SHA-256 hex digest of the block's canonical encoding.
func Hash(b protocol.Block) (string, error) {
	if b.Transactions == nil {
		b.Transactions = []protocol.Transaction{}
	}
	return protocol.HashCanonical(b)
}

// SubmitTransaction appends a fresh transaction to the pending pool and
// returns the pool size after insertion. The value doubles as the
// transaction's pending index until the next seal.
func (l *Ledger) SubmitTransaction(sender, recipient, product string, price float64) (int, error) {
	sender = strings.TrimSpace(sender)
	recipient = strings.TrimSpace(recipient)
	if sender == "" || recipient == "" {
		return 0, fmt.Errorf("%w: sender and recipient are required", ErrInvalidTransaction)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("%w: price must be a positive number", ErrInvalidTransaction)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, protocol.Transaction{
		Sender:    sender,
		Recipient: recipient,
		Product:   product,
		Price:     price,
	})
	return len(l.pending), nil
}

// ConfirmDispatch runs the distributor confirmation on the pending
// transaction at the 1-based index.
func (l *Ledger) ConfirmDispatch(index int) (Transition, protocol.Transaction, error) {
	return l.confirm(index, l.machine.ConfirmDispatch)
}

// ConfirmReception runs the client confirmation on the pending transaction
// at the 1-based index.
func (l *Ledger) ConfirmReception(index int) (Transition, protocol.Transaction, error) {
	return l.confirm(index, l.machine.ConfirmReception)
}

func (l *Ledger) confirm(index int, apply func(*protocol.Transaction) Transition) (Transition, protocol.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || index > len(l.pending) {
		return TransitionNone, protocol.Transaction{}, fmt.Errorf("%w: index %d", ErrTransactionNotFound, index)
	}
	tx := &l.pending[index-1]
	transition := apply(tx)
	return transition, *tx, nil
}

// SealBlock closes the pending pool into a new block mined by miner. Only
// transactions with all four flags set are included; the rest are dropped
// with the pool and reported in the result.
func (l *Ledger) SealBlock(miner string) (SealResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	previousHash, err := Hash(l.chain[len(l.chain)-1])
	if err != nil {
		return SealResult{}, fmt.Errorf("hash previous block: %w", err)
	}
	pendingRoot, err := protocol.TransactionsRoot(l.pending)
	if err != nil {
		return SealResult{}, fmt.Errorf("compute pending merkle root: %w", err)
	}

	eligible := make([]protocol.Transaction, 0, len(l.pending))
	discarded := make([]protocol.Transaction, 0)
	for _, tx := range l.pending {
		if tx.SealEligible() {
			eligible = append(eligible, tx)
		} else {
			discarded = append(discarded, tx)
		}
	}
	merkleRoot, err := protocol.TransactionsRoot(eligible)
	if err != nil {
		return SealResult{}, fmt.Errorf("compute block merkle root: %w", err)
	}

	block := protocol.Block{
		Index:        int64(len(l.chain)) + 1,
		Timestamp:    l.timestamp(),
		Transactions: eligible,
		MerkleRoot:   merkleRoot,
		PendingRoot:  pendingRoot,
		PreviousHash: previousHash,
		Miner:        miner,
	}
	hash, err := Hash(block)
	if err != nil {
		return SealResult{}, fmt.Errorf("hash sealed block: %w", err)
	}

	l.chain = append(l.chain, block)
	l.batch = cloneTransactions(eligible)
	l.discarded = cloneTransactions(discarded)
	l.pending = nil

	return SealResult{
		Block:     cloneBlock(block),
		Hash:      hash,
		Discarded: cloneTransactions(discarded),
	}, nil
}

func (l *Ledger) LastBlock() protocol.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneBlock(l.chain[len(l.chain)-1])
}

// Block returns the block with the given 1-based index.
func (l *Ledger) Block(index int64) (protocol.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || index > int64(len(l.chain)) {
		return protocol.Block{}, false
	}
	return cloneBlock(l.chain[index-1]), true
}

func (l *Ledger) Blocks() []protocol.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Block, 0, len(l.chain))
	for _, b := range l.chain {
		out = append(out, cloneBlock(b))
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chain)
}

func (l *Ledger) Pending() []protocol.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneTransactions(l.pending)
}

func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// DrainBatch hands out the last sealed batch and its discarded transactions
// exactly once. Later calls return nothing until the next seal.
func (l *Ledger) DrainBatch() (batch, discarded []protocol.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch, discarded = l.batch, l.discarded
	l.batch, l.discarded = nil, nil
	return batch, discarded
}

// Verify checks the integrity of the whole chain.
func (l *Ledger) Verify() error {
	return VerifyChain(l.Blocks())
}

// VerifyChain checks genesis, index continuity, previous-hash linkage and
// each block's Merkle root.
func VerifyChain(blocks []protocol.Block) error {
	if len(blocks) == 0 {
		return errors.New("empty chain")
	}
	genesis := blocks[0]
	if genesis.Index != 1 || genesis.PreviousHash != protocol.GenesisPreviousHash || genesis.Miner != "" {
		return errors.New("invalid genesis block")
	}
	for i := range blocks {
		current := blocks[i]
		root, err := protocol.TransactionsRoot(current.Transactions)
		if err != nil {
			return fmt.Errorf("block %d: compute merkle root: %w", current.Index, err)
		}
		if root != current.MerkleRoot {
			return fmt.Errorf("block %d: merkle root mismatch: expected %q, got %q", current.Index, root, current.MerkleRoot)
		}
		if i == 0 {
			continue
		}
		previous := blocks[i-1]
		if current.Index != previous.Index+1 {
			return fmt.Errorf("block %d: invalid index, expected %d", current.Index, previous.Index+1)
		}
		prevHash, err := Hash(previous)
		if err != nil {
			return fmt.Errorf("block %d: hash previous: %w", current.Index, err)
		}
		if current.PreviousHash != prevHash {
			return fmt.Errorf("block %d: invalid previous hash: expected %s, got %s", current.Index, prevHash, current.PreviousHash)
		}
	}
	return nil
}

func (l *Ledger) timestamp() time.Time {
	// Postgres keeps microseconds; truncating keeps archived blocks hashable.
	return l.now().UTC().Truncate(time.Microsecond)
}

func cloneBlock(b protocol.Block) protocol.Block {
	b.Transactions = cloneTransactions(b.Transactions)
	return b
}

func cloneTransactions(txs []protocol.Transaction) []protocol.Transaction {
	out := make([]protocol.Transaction, len(txs))
	copy(out, txs)
	return out
}
