package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// AdminEngine is the protocol configuration surface.
type AdminEngine interface {
	Config(ctx context.Context) domain.ProtocolConfig
	ClaimsPaused(ctx context.Context) bool
	SetGlobalMinStake(ctx context.Context, caller common.Address, amount *big.Int) error
	SetDefaultMinStake(ctx context.Context, caller common.Address, amount *big.Int) error
	SetFeeConfig(ctx context.Context, caller, treasury common.Address, feeBps uint64) error
	SetMaxStaleness(ctx context.Context, caller common.Address, d time.Duration) error
	SetClaimsPaused(ctx context.Context, caller common.Address, paused bool) error
}

// AdminHandler serves protocol configuration endpoints.
type AdminHandler struct {
	engine AdminEngine
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(engine AdminEngine, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, logger: logHandler(logger, "admin")}
}

// ConfigResponse is the protocol configuration as served over HTTP.
type ConfigResponse struct {
	FeeBps          uint64         `json:"fee_bps"`
	Treasury        common.Address `json:"treasury"`
	GlobalMinStake  string         `json:"global_min_stake"`
	DefaultMinStake string         `json:"default_min_stake"`
	MaxStaleness    string         `json:"max_staleness"`
	ClaimsPaused    bool           `json:"claims_paused"`
}

// GetConfig returns the protocol configuration.
// GET /api/config
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.Config(r.Context())
	writeJSON(w, http.StatusOK, ConfigResponse{
		FeeBps:          cfg.FeeBps,
		Treasury:        cfg.Treasury,
		GlobalMinStake:  domain.CopyInt(cfg.GlobalMinStake).String(),
		DefaultMinStake: domain.CopyInt(cfg.DefaultMinStake).String(),
		MaxStaleness:    cfg.MaxStaleness.String(),
		ClaimsPaused:    h.engine.ClaimsPaused(r.Context()),
	})
}

// FeeRequest is the body of PUT /api/admin/fee.
type FeeRequest struct {
	Treasury string `json:"treasury"`
	FeeBps   uint64 `json:"fee_bps"`
}

// SetFee updates the treasury and fee rate.
// PUT /api/admin/fee
func (h *AdminHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	var req FeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	treasury, err := parseAddress("treasury", req.Treasury)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, "set fee", h.engine.SetFeeConfig(r.Context(), callerOf(r), treasury, req.FeeBps))
}

// SetGlobalMinStake updates the global minimum stake.
// PUT /api/admin/global-min-stake
func (h *AdminHandler) SetGlobalMinStake(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.readAmount(w, r)
	if !ok {
		return
	}
	h.apply(w, r, "set global min stake", h.engine.SetGlobalMinStake(r.Context(), callerOf(r), amount))
}

// SetDefaultMinStake updates the default minimum stake.
// PUT /api/admin/default-min-stake
func (h *AdminHandler) SetDefaultMinStake(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.readAmount(w, r)
	if !ok {
		return
	}
	h.apply(w, r, "set default min stake", h.engine.SetDefaultMinStake(r.Context(), callerOf(r), amount))
}

// StalenessRequest is the body of PUT /api/admin/max-staleness.
type StalenessRequest struct {
	MaxStaleness string `json:"max_staleness"`
}

// SetMaxStaleness updates the oracle staleness bound.
// PUT /api/admin/max-staleness
func (h *AdminHandler) SetMaxStaleness(w http.ResponseWriter, r *http.Request) {
	var req StalenessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := time.ParseDuration(req.MaxStaleness)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid max_staleness: "+err.Error())
		return
	}
	h.apply(w, r, "set max staleness", h.engine.SetMaxStaleness(r.Context(), callerOf(r), d))
}

// PauseRequest is the body of PUT /api/admin/claims-paused.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// SetClaimsPaused pauses or resumes reward claims.
// PUT /api/admin/claims-paused
func (h *AdminHandler) SetClaimsPaused(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, "set claims paused", h.engine.SetClaimsPaused(r.Context(), callerOf(r), req.Paused))
}

func (h *AdminHandler) readAmount(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	var req AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return amount, true
}

func (h *AdminHandler) apply(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		writeEngineError(w, r, h.logger, op, err)
		return
	}
	h.GetConfig(w, r)
}
