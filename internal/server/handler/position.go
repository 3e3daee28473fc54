package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// PositionEngine is the engine surface the position handler needs.
type PositionEngine interface {
	Position(ctx context.Context, tokenID uint64) (domain.Position, error)
	PositionsOf(ctx context.Context, owner common.Address) ([]domain.Position, error)
	ClaimReward(ctx context.Context, caller common.Address, tokenID uint64) (domain.ClaimReceipt, error)
	TransferPosition(ctx context.Context, caller, from, to common.Address, tokenID uint64) error
	ApprovePosition(ctx context.Context, caller, spender common.Address, tokenID uint64) error
	SetApprovalForAll(ctx context.Context, caller, operator common.Address, approved bool) error
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	engine PositionEngine
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(engine PositionEngine, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{engine: engine, logger: logHandler(logger, "position")}
}

// ListPositions returns the positions held by an owner.
// GET /api/positions?owner=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.engine.PositionsOf(r.Context(), owner)
	if err != nil {
		writeEngineError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     owner,
		"positions": positions,
	})
}

// GetPosition returns a single position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.engine.Position(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ClaimReward pays a winning position to its holder.
// POST /api/positions/{id}/claim
func (h *PositionHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.engine.ClaimReward(r.Context(), callerOf(r), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "claim reward", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// TransferRequest is the body of POST /api/positions/{id}/transfer.
type TransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TransferPosition moves a position to a new holder.
// POST /api/positions/{id}/transfer
func (h *PositionHandler) TransferPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.TransferPosition(r.Context(), callerOf(r), from, to, id); err != nil {
		writeEngineError(w, r, h.logger, "transfer position", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveRequest is the body of POST /api/positions/{id}/approve.
type ApproveRequest struct {
	Spender string `json:"spender"`
}

// ApprovePosition approves a spender for one position.
// POST /api/positions/{id}/approve
func (h *PositionHandler) ApprovePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.ApprovePosition(r.Context(), callerOf(r), spender, id); err != nil {
		writeEngineError(w, r, h.logger, "approve position", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OperatorRequest is the body of POST /api/operators.
type OperatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

// SetApprovalForAll grants or revokes operator rights over the caller's
// positions.
// POST /api/operators
func (h *PositionHandler) SetApprovalForAll(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator, err := parseAddress("operator", req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.SetApprovalForAll(r.Context(), callerOf(r), operator, req.Approved); err != nil {
		writeEngineError(w, r, h.logger, "set approval for all", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
