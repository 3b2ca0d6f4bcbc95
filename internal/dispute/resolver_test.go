package dispute

import (
	"io"
	"log/slog"
	"testing"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/registry"
)

func newResolverForTest() (*Resolver, *registry.Registry) {
	reg := registry.New(registry.Options{})
	_ = reg.RegisterDistributor("Distributor1", 500)
	_ = reg.RegisterClient("C1", 200)
	return New(reg, DefaultPenalty, slog.New(slog.NewJSONHandler(io.Discard, nil))), reg
}

func TestResolveClientDeniesReceipt(t *testing.T) {
	r, reg := newResolverForTest()
	tx := protocol.Transaction{
		Sender:                 "Distributor1",
		Recipient:              "C1",
		Product:                "Product B",
		Price:                  90,
		ConfirmedByDistributor: true,
		Dispatched:             true,
		Received:               true,
	}
	penalties := r.Resolve([]protocol.Transaction{tx})
	if len(penalties) != 1 {
		t.Fatalf("expected 1 penalty, got %d", len(penalties))
	}
	p := penalties[0]
	if p.ActorID != "C1" || p.Kind != protocol.ActorClient || p.Reason != ReasonReceiptDenied || !p.Applied {
		t.Fatalf("unexpected penalty: %+v", p)
	}
	a, _ := reg.Lookup("C1")
	if a.Deposit != 150 {
		t.Fatalf("C1 deposit = %d, want 150", a.Deposit)
	}
}

func TestResolveDistributorFalseDispatch(t *testing.T) {
	r, reg := newResolverForTest()
	tx := protocol.Transaction{
		Sender:                 "Distributor1",
		Recipient:              "C1",
		ConfirmedByDistributor: true,
		ConfirmedByConsumer:    true,
	}
	penalties := r.Resolve([]protocol.Transaction{tx})
	if len(penalties) != 1 || penalties[0].Kind != protocol.ActorDistributor || penalties[0].Reason != ReasonFalseDispatch {
		t.Fatalf("unexpected penalties: %+v", penalties)
	}
	d, _ := reg.Lookup("Distributor1")
	if d.Deposit != 450 {
		t.Fatalf("Distributor1 deposit = %d, want 450", d.Deposit)
	}
	c, _ := reg.Lookup("C1")
	if c.Deposit != 200 {
		t.Fatalf("truthful client must not be debited, deposit %d", c.Deposit)
	}
}

func TestResolveAlreadyFlaggedDispatch(t *testing.T) {
	r, reg := newResolverForTest()
	tx := protocol.Transaction{Sender: "Distributor1", Recipient: "C1", ConfirmedByConsumer: true}
	if penalties := r.Resolve([]protocol.Transaction{tx}); len(penalties) != 0 {
		t.Fatalf("expected no penalty, got %+v", penalties)
	}
	d, _ := reg.Lookup("Distributor1")
	if d.Deposit != 500 {
		t.Fatalf("deposit changed to %d", d.Deposit)
	}
}

func TestResolveNeverPenalizesHonestTransaction(t *testing.T) {
	r, reg := newResolverForTest()
	tx := protocol.Transaction{
		Sender:                 "Distributor1",
		Recipient:              "C1",
		ConfirmedByDistributor: true,
		Dispatched:             true,
		ConfirmedByConsumer:    true,
		Received:               true,
	}
	others := []protocol.Transaction{
		tx,
		{Sender: "Distributor1", Recipient: "C1"},
		{Sender: "Distributor1", Recipient: "C1", ConfirmedByDistributor: true, Dispatched: true},
		{Sender: "Distributor1", Recipient: "C1", ConfirmedByDistributor: true, Dispatched: true, ConfirmedByConsumer: true},
	}
	if penalties := r.Resolve(others); len(penalties) != 0 {
		t.Fatalf("expected no penalties, got %+v", penalties)
	}
	for _, id := range []string{"Distributor1", "C1"} {
		a, _ := reg.Lookup(id)
		if (id == "C1" && a.Deposit != 200) || (id == "Distributor1" && a.Deposit != 500) {
			t.Fatalf("%s deposit changed to %d", id, a.Deposit)
		}
	}
}

func TestResolvePartyRolesFromRegistry(t *testing.T) {
	r, reg := newResolverForTest()
	tx := protocol.Transaction{
		Sender:     "C1",
		Recipient:  "Distributor1",
		Dispatched: true,
		Received:   true,
	}
	penalties := r.Resolve([]protocol.Transaction{tx})
	if len(penalties) != 1 || penalties[0].ActorID != "C1" {
		t.Fatalf("client must be identified from either side, got %+v", penalties)
	}
	a, _ := reg.Lookup("C1")
	if a.Deposit != 150 {
		t.Fatalf("C1 deposit = %d, want 150", a.Deposit)
	}
}

func TestResolveUnknownPartyNotApplied(t *testing.T) {
	r, _ := newResolverForTest()
	tx := protocol.Transaction{
		Sender:     "Manufacturer1",
		Recipient:  "Distributor9",
		Dispatched: true,
		Received:   true,
	}
	penalties := r.Resolve([]protocol.Transaction{tx})
	if len(penalties) != 1 {
		t.Fatalf("expected 1 penalty, got %d", len(penalties))
	}
	if penalties[0].Applied {
		t.Fatalf("penalty against unregistered actor must not be applied")
	}
}
