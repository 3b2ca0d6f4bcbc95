package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
)

// DefaultManufacturerAlias is the fixed identifier that always resolves to
// the manufacturer, whatever id it registered with.
const DefaultManufacturerAlias = "Manufacturer"

var (
	ErrManufacturerRegistered = errors.New("manufacturer already registered")
	ErrUnknownActor           = errors.New("unknown actor")
	ErrInvalidActor           = errors.New("invalid actor")
)

// MissHook observes a credit or debit aimed at an identifier that no
// registry holds. op is "credit" or "debit".
type MissHook func(op, actorID string, amount int64)

type Options struct {
	ManufacturerAlias string
	OnMiss            MissHook
}

// Registry holds actor identities and their security deposits. It is the
// only owner of balance state.
type Registry struct {
	mu           sync.Mutex
	manufacturer *protocol.Actor
	distributors map[string]*protocol.Actor
	clients      map[string]*protocol.Actor
	alias        string
	onMiss       MissHook
}

func New(opts Options) *Registry {
	alias := strings.TrimSpace(opts.ManufacturerAlias)
	if alias == "" {
		alias = DefaultManufacturerAlias
	}
	return &Registry{
		distributors: map[string]*protocol.Actor{},
		clients:      map[string]*protocol.Actor{},
		alias:        alias,
		onMiss:       opts.OnMiss,
	}
}

// RegisterManufacturer sets the manufacturer singleton. A second call is
// rejected with ErrManufacturerRegistered and leaves the first in place.
func (r *Registry) RegisterManufacturer(id string, deposit int64) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: manufacturer id is required", ErrInvalidActor)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manufacturer != nil {
		return fmt.Errorf("%w: %s", ErrManufacturerRegistered, r.manufacturer.ID)
	}
	r.manufacturer = &protocol.Actor{ID: id, Kind: protocol.ActorManufacturer, Deposit: deposit}
	return nil
}

// RegisterDistributor adds or overwrites a distributor.
func (r *Registry) RegisterDistributor(id string, deposit int64) error {
	return r.register(r.distributors, protocol.ActorDistributor, id, deposit)
}

// RegisterClient adds or overwrites a client.
func (r *Registry) RegisterClient(id string, deposit int64) error {
	return r.register(r.clients, protocol.ActorClient, id, deposit)
}

func (r *Registry) register(set map[string]*protocol.Actor, kind protocol.ActorKind, id string, deposit int64) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: %s id is required", ErrInvalidActor, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set[id] = &protocol.Actor{ID: id, Kind: kind, Deposit: deposit}
	return nil
}

func (r *Registry) IsDistributor(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.distributors[id]
	return ok
}

func (r *Registry) IsClient(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	return ok
}

// Lookup resolves id among clients, then distributors, then the
// manufacturer.
func (r *Registry) Lookup(id string) (protocol.Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.resolve(id)
	if a == nil {
		return protocol.Actor{}, false
	}
	return *a, true
}

// Credit adds amount to the deposit of whichever actor id resolves to.
func (r *Registry) Credit(id string, amount int64) (protocol.Actor, error) {
	r.mu.Lock()
	a := r.resolve(id)
	if a == nil {
		r.mu.Unlock()
		return protocol.Actor{}, r.miss("credit", id, amount)
	}
	a.Deposit += amount
	out := *a
	r.mu.Unlock()
	return out, nil
}

// Debit subtracts amount from the deposit of the actor of the given kind.
// Deposits may go negative.
func (r *Registry) Debit(kind protocol.ActorKind, id string, amount int64) (protocol.Actor, error) {
	r.mu.Lock()
	var a *protocol.Actor
	switch kind {
	case protocol.ActorClient:
		a = r.clients[id]
	case protocol.ActorDistributor:
		a = r.distributors[id]
	case protocol.ActorManufacturer:
		a = r.manufacturerFor(id)
	}
	if a == nil {
		r.mu.Unlock()
		return protocol.Actor{}, r.miss("debit", id, amount)
	}
	a.Deposit -= amount
	out := *a
	r.mu.Unlock()
	return out, nil
}

// Actors lists every registered actor: the manufacturer first, then
// distributors and clients sorted by id.
func (r *Registry) Actors() []protocol.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Actor, 0, 1+len(r.distributors)+len(r.clients))
	if r.manufacturer != nil {
		out = append(out, *r.manufacturer)
	}
	out = append(out, sortedActors(r.distributors)...)
	out = append(out, sortedActors(r.clients)...)
	return out
}

func (r *Registry) resolve(id string) *protocol.Actor {
	if a, ok := r.clients[id]; ok {
		return a
	}
	if a, ok := r.distributors[id]; ok {
		return a
	}
	return r.manufacturerFor(id)
}

func (r *Registry) manufacturerFor(id string) *protocol.Actor {
	if r.manufacturer == nil {
		return nil
	}
	if id == r.alias || id == r.manufacturer.ID {
		return r.manufacturer
	}
	return nil
}

// miss runs outside the lock so hooks may call back into the registry.
func (r *Registry) miss(op, id string, amount int64) error {
	if r.onMiss != nil {
		r.onMiss(op, id, amount)
	}
	return fmt.Errorf("%w: %q", ErrUnknownActor, id)
}

func sortedActors(set map[string]*protocol.Actor) []protocol.Actor {
	out := make([]protocol.Actor, 0, len(set))
	for _, a := range set {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
