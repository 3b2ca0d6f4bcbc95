package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/consensus"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/dispute"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/ledger"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/registry"
)

type fixedFloat float64

func (f fixedFloat) Float64() float64 { return float64(f) }

type instantElector struct{}

func (instantElector) ElectLeader(_ context.Context, candidates []string) (string, time.Duration, error) {
	if len(candidates) == 0 {
		return "", 0, consensus.ErrNoCandidates
	}
	return candidates[0], time.Second, nil
}

type recordingSink struct {
	mu     sync.Mutex
	hashes []string
	fail   bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Archive(_ context.Context, _ protocol.Block, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.hashes = append(s.hashes, hash)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func newServiceForTest(t *testing.T, draw float64, elector consensus.LeaderElector, sinks ...*recordingSink) *SupplyChainService {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	l := ledger.New(ledger.Options{HonestyProbability: ledger.DefaultHonestyProbability, Rand: fixedFloat(draw)})
	reg := registry.New(registry.Options{})
	round, err := consensus.NewRound(consensus.Params{
		Ledger:   l,
		Registry: reg,
		Elector:  elector,
		Reward:   consensus.DefaultMiningReward,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewRound error: %v", err)
	}
	params := Params{
		Ledger:   l,
		Registry: reg,
		Round:    round,
		Resolver: dispute.New(reg, dispute.DefaultPenalty, logger),
		Logger:   logger,
	}
	for _, s := range sinks {
		params.Sinks = append(params.Sinks, s)
	}
	svc, err := NewSupplyChain(params)
	if err != nil {
		t.Fatalf("NewSupplyChain error: %v", err)
	}
	return svc
}

func TestRoundCreditsMinerAndArchives(t *testing.T) {
	sink := &recordingSink{}
	svc := newServiceForTest(t, 0, instantElector{}, sink)
	ctx := context.Background()
	if _, err := svc.RegisterDistributor(ctx, protocol.RegisterActorRequest{ID: "Distributor1", Deposit: 500}); err != nil {
		t.Fatalf("RegisterDistributor error: %v", err)
	}
	sub, err := svc.SubmitTransaction(ctx, protocol.SubmitTransactionRequest{Sender: "Manufacturer1", Recipient: "Distributor1", Product: "Product A", Price: 100})
	if err != nil || sub.PendingIndex != 1 {
		t.Fatalf("SubmitTransaction = %+v, %v", sub, err)
	}
	if resp, err := svc.ConfirmDispatch(ctx, 1); err != nil || resp.Transition != string(ledger.TransitionHonest) {
		t.Fatalf("ConfirmDispatch = %+v, %v", resp, err)
	}
	if resp, err := svc.ConfirmReception(ctx, 1); err != nil || resp.Transition != string(ledger.TransitionHonest) {
		t.Fatalf("ConfirmReception = %+v, %v", resp, err)
	}

	round, err := svc.RunRound(ctx, "Distributor1")
	if err != nil {
		t.Fatalf("RunRound error: %v", err)
	}
	if !round.Credited || round.Block.Index != 2 || len(round.Block.Transactions) != 1 {
		t.Fatalf("unexpected round response: %+v", round)
	}
	actor, err := svc.Actor(ctx, "Distributor1")
	if err != nil || actor.Deposit != 510 {
		t.Fatalf("Distributor1 = %+v, %v; want deposit 510", actor, err)
	}
	if len(sink.hashes) != 1 || sink.hashes[0] != round.BlockHash {
		t.Fatalf("sink saw %v, want [%s]", sink.hashes, round.BlockHash)
	}
	if v := svc.VerifyChain(ctx); v.Status != "ok" || v.Length != 2 {
		t.Fatalf("VerifyChain = %+v", v)
	}
}

func TestRoundDefaultsToNodeIdentifier(t *testing.T) {
	svc := newServiceForTest(t, 0, instantElector{})
	round, err := svc.RunRound(context.Background(), "")
	if err != nil {
		t.Fatalf("RunRound error: %v", err)
	}
	if len(round.Miner) != 32 || round.Credited {
		t.Fatalf("expected uncredited uuid hex miner, got %+v", round)
	}
}

func TestSinkFailureKeepsBlock(t *testing.T) {
	sink := &recordingSink{fail: true}
	svc := newServiceForTest(t, 0, instantElector{}, sink)
	round, err := svc.RunRound(context.Background(), "m")
	if err != nil {
		t.Fatalf("RunRound error: %v", err)
	}
	if round.SinkFailures != 1 {
		t.Fatalf("sink failures = %d, want 1", round.SinkFailures)
	}
	if got := svc.Chain(context.Background()).Length; got != 2 {
		t.Fatalf("chain length = %d, want 2", got)
	}
}

func TestCancelledRoundMapsToUnavailable(t *testing.T) {
	svc := newServiceForTest(t, 0, consensus.NewRandomDelay(time.Hour, time.Hour, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.RunRound(ctx, "m")
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus != http.StatusServiceUnavailable || appErr.Code != "ROUND_CANCELLED" {
		t.Fatalf("expected ROUND_CANCELLED, got %v", err)
	}
	if got := svc.Chain(context.Background()).Length; got != 1 {
		t.Fatalf("cancelled round sealed a block, chain length %d", got)
	}
}

func TestResolveDisputesInspectsBatchOnce(t *testing.T) {
	svc := newServiceForTest(t, 0, instantElector{})
	ctx := context.Background()
	_, _ = svc.RegisterClient(ctx, protocol.RegisterActorRequest{ID: "Client1", Deposit: 200})
	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitTransaction(ctx, protocol.SubmitTransactionRequest{Sender: "Distributor1", Recipient: "Client1", Product: "Product B", Price: 50}); err != nil {
			t.Fatalf("SubmitTransaction error: %v", err)
		}
	}
	_, _ = svc.ConfirmDispatch(ctx, 1)
	_, _ = svc.ConfirmReception(ctx, 1)
	if _, err := svc.RunRound(ctx, "Client1"); err != nil {
		t.Fatalf("RunRound error: %v", err)
	}

	first := svc.ResolveDisputes(ctx)
	if first.Inspected != 1 || len(first.Penalties) != 0 {
		t.Fatalf("first resolve = %+v; want one honest transaction inspected", first)
	}
	second := svc.ResolveDisputes(ctx)
	if second.Inspected != 0 {
		t.Fatalf("second resolve inspected %d transactions, want 0", second.Inspected)
	}
	actor, _ := svc.Actor(ctx, "Client1")
	if actor.Deposit != 210 {
		t.Fatalf("Client1 deposit = %d, want 210 (reward only)", actor.Deposit)
	}
}

func TestFalseDispatchIsReported(t *testing.T) {
	svc := newServiceForTest(t, 0.99, instantElector{})
	ctx := context.Background()
	_, _ = svc.SubmitTransaction(ctx, protocol.SubmitTransactionRequest{Sender: "Distributor1", Recipient: "Client1", Product: "Product C", Price: 20})
	resp, err := svc.ConfirmDispatch(ctx, 1)
	if err != nil {
		t.Fatalf("ConfirmDispatch error: %v", err)
	}
	if resp.Transition != string(ledger.TransitionFalseDispatchClaim) || resp.Transaction.Dispatched {
		t.Fatalf("expected false dispatch claim, got %+v", resp)
	}
	again, _ := svc.ConfirmReception(ctx, 1)
	if again.Transition != string(ledger.TransitionNone) {
		t.Fatalf("reception of an undispatched product must be a no-op, got %s", again.Transition)
	}
}

func TestErrorMapping(t *testing.T) {
	svc := newServiceForTest(t, 0, instantElector{})
	ctx := context.Background()

	if _, err := svc.ConfirmDispatch(ctx, 7); !IsCode(err, "TRANSACTION_NOT_FOUND") {
		t.Fatalf("expected TRANSACTION_NOT_FOUND, got %v", err)
	}
	if _, err := svc.SubmitTransaction(ctx, protocol.SubmitTransactionRequest{Sender: "a", Recipient: "b", Product: "p", Price: -1}); !IsCode(err, "BAD_REQUEST") {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
	if _, err := svc.RegisterManufacturer(ctx, protocol.RegisterActorRequest{ID: "Manufacturer1", Deposit: 1000}); err != nil {
		t.Fatalf("RegisterManufacturer error: %v", err)
	}
	if _, err := svc.RegisterManufacturer(ctx, protocol.RegisterActorRequest{ID: "Manufacturer2", Deposit: 1000}); !IsCode(err, "MANUFACTURER_ALREADY_REGISTERED") {
		t.Fatalf("expected MANUFACTURER_ALREADY_REGISTERED, got %v", err)
	}
	if _, err := svc.RegisterClient(ctx, protocol.RegisterActorRequest{ID: "  "}); !IsCode(err, "BAD_REQUEST") {
		t.Fatalf("expected BAD_REQUEST for blank id, got %v", err)
	}
	if _, err := svc.Actor(ctx, "nobody"); !IsCode(err, "ACTOR_NOT_FOUND") {
		t.Fatalf("expected ACTOR_NOT_FOUND, got %v", err)
	}
	if _, err := svc.Block(ctx, 9); !IsCode(err, "BLOCK_NOT_FOUND") {
		t.Fatalf("expected BLOCK_NOT_FOUND, got %v", err)
	}
}

func TestAutoMineSealsWhenPoolFills(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	l := ledger.New(ledger.Options{HonestyProbability: 1, Rand: fixedFloat(0)})
	reg := registry.New(registry.Options{})
	round, err := consensus.NewRound(consensus.Params{Ledger: l, Registry: reg, Elector: instantElector{}, Logger: logger})
	if err != nil {
		t.Fatalf("NewRound error: %v", err)
	}
	svc, err := NewSupplyChain(Params{
		Ledger:       l,
		Registry:     reg,
		Round:        round,
		Resolver:     dispute.New(reg, dispute.DefaultPenalty, logger),
		Logger:       logger,
		AutoMine:     true,
		MinPending:   2,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupplyChain error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunAutoMine(ctx) }()

	_, _ = l.SubmitTransaction("a", "b", "p", 1)
	_, _ = l.SubmitTransaction("a", "c", "p", 1)
	deadline := time.Now().Add(2 * time.Second)
	for l.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunAutoMine returned %v", err)
	}
	if l.Len() < 2 {
		t.Fatalf("auto-mine did not seal a block")
	}
}

func TestAutoMineDisabledReturns(t *testing.T) {
	svc := newServiceForTest(t, 0, instantElector{})
	if err := svc.RunAutoMine(context.Background()); err != nil {
		t.Fatalf("RunAutoMine error: %v", err)
	}
}

func TestLedgerStaysResponsiveDuringRoundWait(t *testing.T) {
	const wait = 300 * time.Millisecond
	svc := newServiceForTest(t, 0, consensus.NewRandomDelay(wait, wait, nil))
	ctx := context.Background()
	if _, err := svc.SubmitTransaction(ctx, protocol.SubmitTransactionRequest{Sender: "Manufacturer1", Recipient: "Distributor1", Product: "Product A", Price: 100}); err != nil {
		t.Fatalf("SubmitTransaction error: %v", err)
	}

	roundDone := make(chan error, 1)
	go func() {
		_, err := svc.RunRound(ctx, "Distributor1")
		roundDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, 80)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SubmitTransaction(ctx, protocol.SubmitTransactionRequest{Sender: "Distributor1", Recipient: "Client1", Product: "Product B", Price: 10}); err != nil {
				errs <- err
			}
			if _, err := svc.ConfirmDispatch(ctx, 1); err != nil {
				errs <- err
			}
			if _, err := svc.ConfirmReception(ctx, 1); err != nil {
				errs <- err
			}
			_ = svc.Chain(ctx)
			_ = svc.Pending(ctx)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
	if elapsed > wait/2 {
		t.Fatalf("calls during the round wait took %s", elapsed)
	}
	if got := svc.Chain(ctx).Length; got != 1 {
		t.Fatalf("chain length = %d before the wait ended, want 1", got)
	}

	select {
	case err := <-roundDone:
		if err != nil {
			t.Fatalf("RunRound error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("round did not finish")
	}
	chain := svc.Chain(ctx)
	if chain.Length != 2 {
		t.Fatalf("chain length = %d, want 2", chain.Length)
	}
	if err := ledger.VerifyChain(chain.Blocks); err != nil {
		t.Fatalf("VerifyChain error: %v", err)
	}
	raw, err := json.Marshal(chain.Blocks)
	if err != nil {
		t.Fatalf("marshal chain: %v", err)
	}
	var decoded []protocol.Block
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal chain: %v", err)
	}
	if err := ledger.VerifyChain(decoded); err != nil {
		t.Fatalf("VerifyChain after JSON round trip: %v", err)
	}
}
