package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/logging"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/service"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service *service.SupplyChainService
	logger  *slog.Logger
}

func NewHandler(svc *service.SupplyChainService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: svc, logger: logger}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /v1/actors/manufacturer", h.handleRegister(protocol.ActorManufacturer))
	mux.HandleFunc("POST /v1/actors/distributors", h.handleRegister(protocol.ActorDistributor))
	mux.HandleFunc("POST /v1/actors/clients", h.handleRegister(protocol.ActorClient))
	mux.HandleFunc("GET /v1/actors", h.handleListActors)
	mux.HandleFunc("GET /v1/actors/{id}", h.handleGetActor)
	mux.HandleFunc("POST /v1/transactions", h.handleSubmitTransaction)
	mux.HandleFunc("GET /v1/transactions/pending", h.handlePending)
	mux.HandleFunc("POST /v1/transactions/{index}/dispatch", h.handleConfirmDispatch)
	mux.HandleFunc("POST /v1/transactions/{index}/reception", h.handleConfirmReception)
	mux.HandleFunc("POST /v1/rounds", h.handleRunRound)
	mux.HandleFunc("POST /v1/disputes/resolve", h.handleResolve)
	mux.HandleFunc("GET /v1/chain", h.handleChain)
	mux.HandleFunc("GET /v1/chain/verify", h.handleVerifyChain)
	mux.HandleFunc("GET /v1/blocks/{index}", h.handleGetBlock)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	logging.AddField(r.Context(), "chain_length", resp.ChainLength)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRegister(kind protocol.ActorKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.RegisterActorRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, service.BadRequest(err.Error(), err))
			return
		}
		var (
			actor protocol.Actor
			err   error
		)
		switch kind {
		case protocol.ActorManufacturer:
			actor, err = h.service.RegisterManufacturer(r.Context(), req)
		case protocol.ActorDistributor:
			actor, err = h.service.RegisterDistributor(r.Context(), req)
		default:
			actor, err = h.service.RegisterClient(r.Context(), req)
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		logging.AddField(r.Context(), "op", "register_"+string(kind))
		logging.AddField(r.Context(), "actor_id", actor.ID)
		writeJSON(w, http.StatusCreated, actor)
	}
}

func (h *Handler) handleListActors(w http.ResponseWriter, r *http.Request) {
	actors := h.service.Actors(r.Context())
	logging.AddField(r.Context(), "op", "list_actors")
	writeJSON(w, http.StatusOK, actors)
}

func (h *Handler) handleGetActor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor, err := h.service.Actor(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_actor")
	logging.AddField(r.Context(), "actor_id", id)
	writeJSON(w, http.StatusOK, actor)
}

func (h *Handler) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req protocol.SubmitTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	resp, err := h.service.SubmitTransaction(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "submit_transaction")
	logging.AddField(r.Context(), "pending_index", resp.PendingIndex)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Pending(r.Context())
	logging.AddField(r.Context(), "op", "pending")
	logging.AddField(r.Context(), "pending", resp.Count)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConfirmDispatch(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.pendingIndex(w, r)
	if !ok {
		return
	}
	resp, err := h.service.ConfirmDispatch(r.Context(), idx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "confirm_dispatch")
	logging.AddField(r.Context(), "pending_index", idx)
	logging.AddField(r.Context(), "transition", resp.Transition)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConfirmReception(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.pendingIndex(w, r)
	if !ok {
		return
	}
	resp, err := h.service.ConfirmReception(r.Context(), idx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "confirm_reception")
	logging.AddField(r.Context(), "pending_index", idx)
	logging.AddField(r.Context(), "transition", resp.Transition)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) pendingIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx <= 0 {
		h.writeError(w, r, service.BadRequest("invalid pending index", err))
		return 0, false
	}
	return idx, true
}

func (h *Handler) handleRunRound(w http.ResponseWriter, r *http.Request) {
	var req protocol.RunRoundRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return
	}
	resp, err := h.service.RunRound(r.Context(), req.Miner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "run_round")
	logging.AddField(r.Context(), "miner", resp.Miner)
	logging.AddField(r.Context(), "block_index", resp.Block.Index)
	logging.AddField(r.Context(), "waited_ms", resp.WaitedMS)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	resp := h.service.ResolveDisputes(r.Context())
	logging.AddField(r.Context(), "op", "resolve_disputes")
	logging.AddField(r.Context(), "penalties", len(resp.Penalties))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleChain(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Chain(r.Context())
	logging.AddField(r.Context(), "op", "chain")
	logging.AddField(r.Context(), "chain_length", resp.Length)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	resp := h.service.VerifyChain(r.Context())
	logging.AddField(r.Context(), "op", "verify_chain")
	logging.AddField(r.Context(), "verification_status", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseInt(r.PathValue("index"), 10, 64)
	if err != nil || idx <= 0 {
		h.writeError(w, r, service.BadRequest("invalid block index", err))
		return
	}
	block, err := h.service.Block(r.Context(), idx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_block")
	logging.AddField(r.Context(), "block_index", idx)
	writeJSON(w, http.StatusOK, block)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Message)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			h.logger.Error("request failed", slog.String("code", appErr.Code), slog.String("error", appErr.Error()))
		}
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", "INTERNAL_ERROR")
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      "INTERNAL_ERROR",
		Message:   "internal server error",
		Retryable: true,
	}})
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves out untouched.
func decodeOptionalJSON(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
