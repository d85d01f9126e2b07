package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/config"
	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
	"github.com/dgnsrekt/gexbot-engine/internal/greeks"
	"github.com/dgnsrekt/gexbot-engine/internal/refresh"
	"github.com/dgnsrekt/gexbot-engine/internal/ws"
)

// SnapshotSource is the read path the handlers serve from.
type SnapshotSource interface {
	Symbols() []string
	CurrentSnapshot(ctx context.Context, symbol string) (data.Snapshot, error)
}

// QuoteSource supplies the underlying price for strike profiles.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*data.Quote, error)
}

// StateReporter exposes the refresh scheduler state.
type StateReporter interface {
	State() refresh.State
}

type Server struct {
	snapshots  SnapshotSource
	refreshes  *RefreshManager
	aggregator *exposure.Aggregator
	quotes     QuoteSource
	scheduler  StateReporter
	hub        *ws.Hub
	config     *config.ServerConfig
	now        func() time.Time
	logger     *zap.Logger
}

// Deps groups the collaborators of a Server. Quotes, Scheduler and Hub are optional.
type Deps struct {
	Snapshots  SnapshotSource
	Refreshes  *RefreshManager
	Aggregator *exposure.Aggregator
	Quotes     QuoteSource
	Scheduler  StateReporter
	Hub        *ws.Hub
}

func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		snapshots:  deps.Snapshots,
		refreshes:  deps.Refreshes,
		aggregator: deps.Aggregator,
		quotes:     deps.Quotes,
		scheduler:  deps.Scheduler,
		hub:        deps.Hub,
		config:     cfg,
		now:        time.Now,
		logger:     logger,
	}
}

type healthResponse struct {
	Status           string `json:"status"`
	Scheduler        string `json:"scheduler,omitempty"`
	Symbols          int    `json:"symbols"`
	StreamingSymbols int    `json:"streaming_symbols"`
	Refreshing       bool   `json:"refreshing"`
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Symbols: len(s.snapshots.Symbols()),
	}
	if s.scheduler != nil {
		resp.Scheduler = s.scheduler.State().String()
	}
	if s.hub != nil {
		resp.StreamingSymbols = len(s.hub.ActiveSymbols())
	}
	if s.refreshes != nil {
		resp.Refreshing = s.refreshes.IsRefreshing()
	}
	writeJSON(w, http.StatusOK, resp)
}

type symbolsResponse struct {
	Symbols []string `json:"symbols"`
	Count   int      `json:"count"`
}

func (s *Server) GetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.snapshots.Symbols()
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, symbolsResponse{Symbols: symbols, Count: len(symbols)})
}

func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	snap, err := s.snapshots.CurrentSnapshot(r.Context(), symbol)
	if err != nil {
		s.fail(w, symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) GetExposure(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	query := r.URL.Query()

	var (
		modeParam string
		opts      exposure.Options
		fresh     bool
	)
	if err := runtime.BindQueryParameter("form", true, false, "mode", query, &modeParam); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "min_strike", query, &opts.MinStrike); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "max_strike", query, &opts.MaxStrike); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "fresh", query, &fresh); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := exposure.ParseMode(modeParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := s.computeContext(r.Context())
	defer cancel()

	snap, err := s.snapshot(ctx, symbol, fresh)
	if err != nil {
		s.fail(w, symbol, err)
		return
	}

	stats, skipped, err := s.aggregator.Compute(ctx, snap.Symbol, snap.Contracts, mode, opts, s.now())
	if err != nil {
		s.fail(w, symbol, err)
		return
	}
	if len(skipped) > 0 {
		s.logger.Debug("contracts skipped",
			zap.String("symbol", snap.Symbol),
			zap.Int("count", len(skipped)),
			zap.Error(skipped[0]),
		)
	}

	w.Header().Set("X-Skipped-Contracts", strconv.Itoa(len(skipped)))
	writeJSON(w, http.StatusOK, stats)
}

type profileResponse struct {
	Symbol    string                 `json:"symbol"`
	Spot      float64                `json:"spot"`
	FetchedAt time.Time              `json:"fetched_at"`
	Strikes   []exposure.StrikeStats `json:"strikes"`
}

func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var spot float64
	if err := runtime.BindQueryParameter("form", true, false, "spot", r.URL.Query(), &spot); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := s.computeContext(r.Context())
	defer cancel()

	snap, err := s.snapshots.CurrentSnapshot(ctx, symbol)
	if err != nil {
		s.fail(w, symbol, err)
		return
	}

	if spot <= 0 && s.quotes != nil {
		quote, err := s.quotes.GetQuote(ctx, snap.Symbol)
		switch {
		case err != nil:
			s.logger.Warn("quote unavailable, using vendor greeks", zap.String("symbol", snap.Symbol), zap.Error(err))
		case quote.Last != nil:
			spot = *quote.Last
		}
	}

	strikes := s.aggregator.StrikeProfile(snap.Contracts, spot, s.now())
	if strikes == nil {
		strikes = []exposure.StrikeStats{}
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Symbol:    snap.Symbol,
		Spot:      spot,
		FetchedAt: snap.FetchedAt,
		Strikes:   strikes,
	})
}

type refreshResponse struct {
	Symbol    string    `json:"symbol"`
	FetchedAt time.Time `json:"fetched_at"`
	Contracts int       `json:"contracts"`
}

func (s *Server) RefreshSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	ctx, cancel := s.computeContext(r.Context())
	defer cancel()

	snap, err := s.refreshes.Refresh(ctx, symbol)
	if err != nil {
		s.fail(w, symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Symbol:    snap.Symbol,
		FetchedAt: snap.FetchedAt,
		Contracts: len(snap.Contracts),
	})
}

type greeksResponse struct {
	Inputs greeks.Inputs `json:"inputs"`
	Call   greeks.Result `json:"call"`
	Put    greeks.Result `json:"put"`
}

func (s *Server) GetGreeks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var sigma, days, spot, strike float64
	for name, dest := range map[string]*float64{
		"sigma":           &sigma,
		"expiration_days": &days,
		"spot":            &spot,
		"strike":          &strike,
	} {
		if err := runtime.BindQueryParameter("form", true, true, name, query, dest); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !(*dest > 0) || !greeks.Finite(*dest) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s must be a positive number", name))
			return
		}
	}

	in := greeks.Inputs{
		Sigma:          sigma,
		ExpirationTime: days / greeks.DaysPerYear,
		Spot:           spot,
		Strike:         strike,
	}
	resp := greeksResponse{
		Inputs: in,
		Call:   greeks.Compute(true, in),
		Put:    greeks.Compute(false, in),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) snapshot(ctx context.Context, symbol string, fresh bool) (data.Snapshot, error) {
	if fresh && s.refreshes != nil {
		return s.refreshes.Refresh(ctx, symbol)
	}
	return s.snapshots.CurrentSnapshot(ctx, symbol)
}

func (s *Server) computeContext(parent context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.config.RequestTimeout(); timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

func (s *Server) fail(w http.ResponseWriter, symbol string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.String("symbol", symbol), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exposure.ErrInvalidRange), errors.Is(err, exposure.ErrGridTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
