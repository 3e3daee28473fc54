package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/market"
)

// MarketEngine is the engine surface the market handler needs. It is
// declared locally so the handler package does not depend on the engine.
type MarketEngine interface {
	Market(ctx context.Context, id uint64) (domain.Market, error)
	MarketState(ctx context.Context, id uint64) domain.MarketState
	Markets(ctx context.Context, opts domain.ListOpts) []domain.Market
	MarketCount(ctx context.Context) int
	CheckExpired(ctx context.Context) []uint64
	CreateMarket(ctx context.Context, caller common.Address, nm market.NewMarket, ref *domain.OracleRef) (uint64, error)
	PerformUpkeep(ctx context.Context, caller common.Address, ids []uint64) ([]uint64, error)
	RecordStake(ctx context.Context, caller, user common.Address, marketID uint64, outcome domain.Outcome, declared, value *big.Int) (domain.StakeReceipt, error)
	HasStaked(ctx context.Context, marketID uint64, user common.Address) bool
	RegisterOracle(ctx context.Context, caller common.Address, marketID uint64, base, quote common.Address, threshold *big.Int) error
	OracleRegistration(ctx context.Context, marketID uint64) (domain.OracleRegistration, error)
	ResolveMarket(ctx context.Context, caller common.Address, marketID uint64) (domain.Resolution, error)
	SetMarketMinStake(ctx context.Context, caller common.Address, id uint64, amount *big.Int) error
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	engine MarketEngine
	events domain.EventStore
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. events may be nil when no event
// store is configured.
func NewMarketHandler(engine MarketEngine, events domain.EventStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine: engine,
		events: events,
		logger: logHandler(logger, "market"),
	}
}

// MarketView is a market with its derived lifecycle state.
type MarketView struct {
	domain.Market
	State domain.MarketState `json:"state"`
}

// ListMarketsResponse wraps the list endpoint output with metadata.
type ListMarketsResponse struct {
	Markets []MarketView `json:"markets"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets in creation order with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts := parseListOpts(r)

	markets := h.engine.Markets(ctx, opts)
	views := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, MarketView{Market: m, State: h.engine.MarketState(ctx, m.ID)})
	}

	writeJSON(w, http.StatusOK, ListMarketsResponse{
		Markets: views,
		Total:   h.engine.MarketCount(ctx),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.engine.Market(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, MarketView{Market: m, State: h.engine.MarketState(r.Context(), id)})
}

// ExpiredResponse lists markets that are expired and unresolved.
type ExpiredResponse struct {
	MarketIDs []uint64 `json:"market_ids"`
}

// ListExpired returns the ids that currently need upkeep.
// GET /api/markets/expired
func (h *MarketHandler) ListExpired(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.CheckExpired(r.Context())
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, ExpiredResponse{MarketIDs: ids})
}

// OracleRequest binds a market to a price pair.
type OracleRequest struct {
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Threshold string `json:"threshold"`
}

func (o OracleRequest) parse() (domain.OracleRef, error) {
	base, err := parseAddress("base", o.Base)
	if err != nil {
		return domain.OracleRef{}, err
	}
	quote, err := parseAddress("quote", o.Quote)
	if err != nil {
		return domain.OracleRef{}, err
	}
	threshold, err := parseAmount("threshold", o.Threshold)
	if err != nil {
		return domain.OracleRef{}, err
	}
	return domain.OracleRef{Base: base, Quote: quote, Threshold: threshold}, nil
}

// CreateMarketRequest is the body of POST /api/markets.
type CreateMarketRequest struct {
	Name        string         `json:"name"`
	AssetSymbol string         `json:"asset_symbol"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Oracle      *OracleRequest `json:"oracle,omitempty"`
}

// CreateMarketResponse returns the new market id.
type CreateMarketResponse struct {
	MarketID uint64 `json:"market_id"`
}

// CreateMarket creates a market and optionally registers its oracle.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var ref *domain.OracleRef
	if req.Oracle != nil {
		parsed, err := req.Oracle.parse()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ref = &parsed
	}

	id, err := h.engine.CreateMarket(r.Context(), callerOf(r), market.NewMarket{
		Name:        req.Name,
		AssetSymbol: req.AssetSymbol,
		ExpiresAt:   req.ExpiresAt,
	}, ref)
	if err != nil {
		writeEngineError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateMarketResponse{MarketID: id})
}

// StakeRequest is the body of POST /api/markets/{id}/stake. Value is the
// amount actually transferred and defaults to Declared.
type StakeRequest struct {
	User     string         `json:"user"`
	Outcome  domain.Outcome `json:"outcome"`
	Declared string         `json:"declared"`
	Value    string         `json:"value,omitempty"`
}

// RecordStake records a stake forwarded by the stake hook.
// POST /api/markets/{id}/stake
func (h *MarketHandler) RecordStake(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req StakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	declared, err := parseAmount("declared", req.Declared)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value := declared
	if req.Value != "" {
		if value, err = parseAmount("value", req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	receipt, err := h.engine.RecordStake(r.Context(), callerOf(r), user, id, req.Outcome, declared, value)
	if err != nil {
		writeEngineError(w, r, h.logger, "record stake", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// HasStaked reports whether an account already staked on a market.
// GET /api/markets/{id}/stakers/{address}
func (h *MarketHandler) HasStaked(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := parseAddress("staker", r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"staked": h.engine.HasStaked(r.Context(), id, user)})
}

// RegisterOracle binds an existing market to a price pair.
// POST /api/markets/{id}/oracle
func (h *MarketHandler) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req OracleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.RegisterOracle(r.Context(), callerOf(r), id, ref.Base, ref.Quote, ref.Threshold); err != nil {
		writeEngineError(w, r, h.logger, "register oracle", err)
		return
	}
	reg, err := h.engine.OracleRegistration(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "register oracle", err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// GetOracle returns the oracle binding of a market.
// GET /api/markets/{id}/oracle
func (h *MarketHandler) GetOracle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg, err := h.engine.OracleRegistration(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "get oracle", err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ResolveMarket resolves an expired market from its price feed.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.ResolveMarket(r.Context(), callerOf(r), id)
	if err != nil {
		writeEngineError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AmountRequest carries a single base-10 amount.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// SetMinStake overrides the minimum stake of one market. Zero clears it.
// POST /api/markets/{id}/min-stake
func (h *MarketHandler) SetMinStake(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.SetMarketMinStake(r.Context(), callerOf(r), id, amount); err != nil {
		writeEngineError(w, r, h.logger, "set market min stake", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpkeepRequest is the body of POST /api/upkeep.
type UpkeepRequest struct {
	MarketIDs []uint64 `json:"market_ids"`
}

// PerformUpkeep emits expiration markers for the ids that still qualify.
// POST /api/upkeep
func (h *MarketHandler) PerformUpkeep(w http.ResponseWriter, r *http.Request) {
	var req UpkeepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	marked, err := h.engine.PerformUpkeep(r.Context(), callerOf(r), req.MarketIDs)
	if err != nil {
		writeEngineError(w, r, h.logger, "perform upkeep", err)
		return
	}
	if marked == nil {
		marked = []uint64{}
	}
	writeJSON(w, http.StatusOK, ExpiredResponse{MarketIDs: marked})
}

// ListEvents returns the committed events of a market from the event store.
// GET /api/markets/{id}/events?limit=50&offset=0
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "event store not configured",
			Kind:  domain.KindNotFound.String(),
			Code:  domain.CodeOf(domain.ErrNotFound),
		})
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.events.ListByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
