package protocol

import "time"

// GenesisPreviousHash is the sentinel previous_hash carried by block #1.
const GenesisPreviousHash = "1"

type ActorKind string

const (
	ActorManufacturer ActorKind = "manufacturer"
	ActorDistributor  ActorKind = "distributor"
	ActorClient       ActorKind = "client"
)

// Transaction is a single movement of goods between two actors together with
// the four confirmation flags collected while it sits in the pending pool.
type Transaction struct {
	Sender                 string  `json:"sender"`
	Recipient              string  `json:"recipient"`
	Product                string  `json:"product"`
	Price                  float64 `json:"price"`
	ConfirmedByDistributor bool    `json:"confirmed_by_distributor"`
	ConfirmedByConsumer    bool    `json:"confirmed_by_consumer"`
	Dispatched             bool    `json:"dispatched"`
	Received               bool    `json:"received"`
}

// SealEligible reports whether all four confirmation flags are set.
func (t Transaction) SealEligible() bool {
	return t.ConfirmedByDistributor && t.Dispatched && t.ConfirmedByConsumer && t.Received
}

// Block is a sealed batch of fully confirmed transactions.
type Block struct {
	Index        int64         `json:"index"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	MerkleRoot   string        `json:"merkle_root,omitempty"`
	PendingRoot  string        `json:"pending_root,omitempty"`
	PreviousHash string        `json:"previous_hash"`
	Miner        string        `json:"miner,omitempty"`
}

type Actor struct {
	ID      string    `json:"id"`
	Kind    ActorKind `json:"kind"`
	Deposit int64     `json:"security_deposit"`
}

type Penalty struct {
	ActorID     string      `json:"actor_id"`
	Kind        ActorKind   `json:"kind"`
	Amount      int64       `json:"amount"`
	Reason      string      `json:"reason"`
	Transaction Transaction `json:"transaction"`
	Applied     bool        `json:"applied"`
}

type RegisterActorRequest struct {
	ID      string `json:"id"`
	Deposit int64  `json:"deposit"`
}

type SubmitTransactionRequest struct {
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Product   string  `json:"product"`
	Price     float64 `json:"price"`
}

type SubmitTransactionResponse struct {
	PendingIndex int `json:"pending_index"`
}

type PendingTransaction struct {
	PendingIndex int         `json:"pending_index"`
	Transaction  Transaction `json:"transaction"`
}

type PendingResponse struct {
	Count        int                  `json:"count"`
	Transactions []PendingTransaction `json:"transactions"`
}

type ConfirmationResponse struct {
	PendingIndex int         `json:"pending_index"`
	Transition   string      `json:"transition"`
	Transaction  Transaction `json:"transaction"`
}

type RunRoundRequest struct {
	Miner string `json:"miner"`
}

// BlockAttestation is the sealing node's signature over a block hash.
type BlockAttestation struct {
	BlockIndex int64  `json:"block_index"`
	BlockHash  string `json:"block_hash"`
	Miner      string `json:"miner"`
	KeyID      string `json:"kid"`
	Signature  string `json:"signature"`
}

type RoundResponse struct {
	Miner        string            `json:"miner"`
	WaitedMS     int64             `json:"waited_ms"`
	Block        Block             `json:"block"`
	BlockHash    string            `json:"block_hash"`
	Credited     bool              `json:"credited"`
	Discarded    int               `json:"discarded"`
	SinkFailures int               `json:"sink_failures,omitempty"`
	Attestation  *BlockAttestation `json:"attestation,omitempty"`
}

type ResolveResponse struct {
	Inspected int       `json:"inspected"`
	Penalties []Penalty `json:"penalties"`
}

type ChainResponse struct {
	Length int     `json:"length"`
	Blocks []Block `json:"blocks"`
}

type VerifyChainResponse struct {
	Status  string `json:"status"`
	Length  int    `json:"length"`
	Details string `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type HealthResponse struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Status      string `json:"status"`
	ChainLength int    `json:"chain_length"`
	Pending     int    `json:"pending"`
	LatestHash  string `json:"latest_hash"`
	AutoMine    bool   `json:"auto_mine"`
	KeyID       string `json:"kid,omitempty"`
	PublicKey   string `json:"public_key,omitempty"`
}
