package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/app"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/config"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/logging"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/service"
)

func main() {
	configPath := flag.String("config", "", "optional node config; built-in actors are used when empty")
	iterations := flag.Int("iterations", 0, "number of simulation cycles, 0 runs until interrupted")
	step := flag.Duration("step", 2*time.Second, "base pause between simulated actions")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	seedActors(cfg)

	logger := logging.NewJSONLogger(cfg.Logging.Level)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node, err := app.BuildNode(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer node.Close()

	sim := &simulation{
		svc:          node.Service,
		logger:       logger,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		step:         *step,
		manufacturer: cfg.Actors.Manufacturer.ID,
		distributors: actorIDs(cfg.Actors.Distributors),
		clients:      actorIDs(cfg.Actors.Clients),
	}
	for i := 0; *iterations == 0 || i < *iterations; i++ {
		if err := sim.cycle(ctx); err != nil {
			break
		}
	}
	logger.Info("simulation stopped")
	for _, a := range node.Service.Actors(context.Background()) {
		logger.Info("final security deposit",
			slog.String("actor_id", a.ID),
			slog.String("kind", string(a.Kind)),
			slog.Int64("security_deposit", a.Deposit),
		)
	}
}

// seedActors installs the default cast when the config registers nobody.
func seedActors(cfg *config.Config) {
	if cfg.Actors.Manufacturer == nil {
		cfg.Actors.Manufacturer = &config.Actor{ID: "Manufacturer1", Deposit: 1000}
	}
	if len(cfg.Actors.Distributors) == 0 {
		cfg.Actors.Distributors = []config.Actor{
			{ID: "Distributor1", Deposit: 500},
			{ID: "Distributor2", Deposit: 500},
			{ID: "Distributor3", Deposit: 500},
		}
	}
	if len(cfg.Actors.Clients) == 0 {
		cfg.Actors.Clients = []config.Actor{
			{ID: "Client1", Deposit: 200},
			{ID: "Client2", Deposit: 200},
		}
	}
}

func actorIDs(actors []config.Actor) []string {
	out := make([]string, 0, len(actors))
	for _, a := range actors {
		out = append(out, a.ID)
	}
	return out
}

type simulation struct {
	svc          *service.SupplyChainService
	logger       *slog.Logger
	rand         *rand.Rand
	step         time.Duration
	manufacturer string
	distributors []string
	clients      []string
}

// cycle ships one product from the manufacturer to a distributor and one
// from a distributor to a client, mining and resolving disputes on the way.
func (s *simulation) cycle(ctx context.Context) error {
	distributor := s.pick(s.distributors)
	idx, err := s.submit(ctx, s.manufacturer, distributor, "Product A")
	if err != nil {
		return err
	}
	if s.svc.Pending(ctx).Count >= service.DefaultMinPending {
		if _, err := s.svc.RunRound(ctx, service.NewNodeIdentifier()); err != nil {
			if service.IsCode(err, "ROUND_CANCELLED") {
				return err
			}
			s.logger.Error("round failed", slog.String("error", err.Error()))
		}
	}
	s.confirmDispatch(ctx, idx)
	if err := pause(ctx, s.step); err != nil {
		return err
	}

	idx, err = s.submit(ctx, s.pick(s.distributors), s.pick(s.clients), "Product B")
	if err != nil {
		return err
	}
	s.confirmDispatch(ctx, idx)
	if err := pause(ctx, s.step); err != nil {
		return err
	}
	if _, err := s.svc.ConfirmReception(ctx, idx); err != nil {
		s.logger.Debug("reception skipped", slog.Int("pending_index", idx), slog.String("error", err.Error()))
	}
	if err := pause(ctx, s.step*5/2); err != nil {
		return err
	}

	s.svc.ResolveDisputes(ctx)
	return pause(ctx, s.step*5/2)
}

func (s *simulation) submit(ctx context.Context, sender, recipient, product string) (int, error) {
	resp, err := s.svc.SubmitTransaction(ctx, protocol.SubmitTransactionRequest{
		Sender:    sender,
		Recipient: recipient,
		Product:   product,
		Price:     float64(50 + s.rand.Intn(151)),
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("new transaction created",
		slog.String("sender", sender),
		slog.String("recipient", recipient),
		slog.String("product", product),
		slog.Int("pending_index", resp.PendingIndex),
	)
	return resp.PendingIndex, nil
}

// confirmDispatch tolerates an index that a round has already sealed away.
func (s *simulation) confirmDispatch(ctx context.Context, idx int) {
	if _, err := s.svc.ConfirmDispatch(ctx, idx); err != nil {
		s.logger.Debug("dispatch skipped", slog.Int("pending_index", idx), slog.String("error", err.Error()))
	}
}

func (s *simulation) pick(ids []string) string {
	return ids[s.rand.Intn(len(ids))]
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
