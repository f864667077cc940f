package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/service"
	"github.com/backstop-dashboard/internal/types"
	"github.com/gorilla/mux"
)

// Live inputs arrive as JSON-encoded query parameters or request-body maps
// supplied by the caller's SDK session. They are decoded with explicit
// validation: a malformed optional parameter defaults to empty visibly, via
// a logged warning and a PARTIAL_DATA omission on the report, never a
// silent swallow.

type liveInputs struct {
	LivePrices   map[string]float64            `json:"livePrices,omitempty"`
	LiveBalances map[string]map[string]float64 `json:"liveBalances,omitempty"` // poolId → assetAddress → tokens
	LiveDebts    map[string]map[string]float64 `json:"liveDebts,omitempty"`
}

func (li liveInputs) apply(opts *service.ReportOptions) {
	opts.LivePrices = li.LivePrices
	opts.LiveBalances = flattenPositionMap(li.LiveBalances)
	opts.LiveDebts = flattenPositionMap(li.LiveDebts)
}

func flattenPositionMap(nested map[string]map[string]float64) map[types.PositionKey]float64 {
	if len(nested) == 0 {
		return nil
	}
	flat := make(map[types.PositionKey]float64)
	for pool, byAsset := range nested {
		for asset, v := range byAsset {
			flat[types.PositionKey{PoolID: pool, AssetAddress: asset}] = v
		}
	}
	return flat
}

// decodeLiveQueryParam decodes one optional JSON query parameter into dest.
// Returns an omission string on malformed input.
func decodeLiveQueryParam(r *http.Request, name string, dest interface{}) (omission string) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return ""
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		logging.FromContext(r.Context()).WithFields(map[string]interface{}{
			"parameter": name,
			"error":     err.Error(),
		}).Warn("Malformed live-input parameter ignored")
		return fmt.Sprintf("PARTIAL_DATA: malformed %s parameter ignored", name)
	}
	return ""
}

func parseReportOptions(r *http.Request) (service.ReportOptions, []string) {
	opts := service.ReportOptions{
		Timezone: r.URL.Query().Get("tz"),
	}
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if days, err := strconv.Atoi(daysStr); err == nil && days > 0 {
			opts.Days = days
		}
	}

	var omissions []string
	var li liveInputs
	if om := decodeLiveQueryParam(r, "livePrices", &li.LivePrices); om != "" {
		omissions = append(omissions, om)
	}
	if om := decodeLiveQueryParam(r, "liveBalances", &li.LiveBalances); om != "" {
		omissions = append(omissions, om)
	}
	if om := decodeLiveQueryParam(r, "liveDebts", &li.LiveDebts); om != "" {
		omissions = append(omissions, om)
	}
	li.apply(&opts)

	return opts, omissions
}

// handleDailyPnl handles GET /api/wallets/{address}/pnl/daily
func (s *Server) handleDailyPnl(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	opts, omissions := parseReportOptions(r)

	report, err := s.pnlService.GetDailyPnl(r.Context(), address, opts)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("address", address).Error("Daily P&L failed")
		respondServiceError(w, err)
		return
	}
	report.Omissions = append(report.Omissions, omissions...)

	respondJSON(w, http.StatusOK, report)
}

// handlePeriodPnl handles GET /api/wallets/{address}/pnl/periods.
// Closed-period reports are cached; any request carrying live inputs (or
// whose window reaches today) recomputes, since live bars are never cached.
func (s *Server) handlePeriodPnl(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	reportOpts, omissions := parseReportOptions(r)
	opts := service.PeriodOptions{ReportOptions: reportOpts}

	var parseErr error
	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		opts.From, parseErr = types.ParseDateKey(fromStr)
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" && parseErr == nil {
		opts.To, parseErr = types.ParseDateKey(toStr)
	}
	if parseErr != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "dates must be YYYY-MM-DD", nil)
		return
	}

	cacheable := s.reportCache != nil && opts.From != "" && opts.To != "" &&
		len(opts.LivePrices) == 0 && len(opts.LiveBalances) == 0 && len(opts.LiveDebts) == 0

	var cacheKey string
	if cacheable {
		cacheKey = s.reportCache.Key("periods", address, string(opts.From), string(opts.To), opts.Timezone)
		var cached models.PeriodReport
		if hit, err := s.reportCache.Get(r.Context(), cacheKey, &cached); err == nil && hit && !hasLiveBar(cached.Bars) {
			cached.Cached = true
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	report, err := s.pnlService.GetPeriodPnl(r.Context(), address, opts)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("address", address).Error("Period P&L failed")
		respondServiceError(w, err)
		return
	}
	report.Omissions = append(report.Omissions, omissions...)

	if cacheable && !hasLiveBar(report.Bars) {
		if err := s.reportCache.Set(r.Context(), cacheKey, report); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("Failed to cache period report")
		}
	}

	respondJSON(w, http.StatusOK, report)
}

func hasLiveBar(bars []models.PeriodBar) bool {
	for _, b := range bars {
		if b.IsLive {
			return true
		}
	}
	return false
}

// handlePortfolioPnl handles POST /api/portfolio/pnl
func (s *Server) handlePortfolioPnl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addresses []string `json:"addresses"`
		Timezone  string   `json:"tz,omitempty"`
		Days      int      `json:"days,omitempty"`
		From      string   `json:"from,omitempty"`
		To        string   `json:"to,omitempty"`
		liveInputs
		ActivePositions []struct {
			PoolID        string   `json:"poolId"`
			AssetAddress  string   `json:"assetAddress"`
			ActiveWallets []string `json:"activeWallets"`
		} `json:"activePositions,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if len(req.Addresses) == 0 {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMETER", "addresses is required", nil)
		return
	}

	opts := service.PeriodOptions{
		ReportOptions: service.ReportOptions{
			Timezone: req.Timezone,
			Days:     req.Days,
		},
	}
	req.liveInputs.apply(&opts.ReportOptions)

	var parseErr error
	if req.From != "" {
		opts.From, parseErr = types.ParseDateKey(req.From)
	}
	if req.To != "" && parseErr == nil {
		opts.To, parseErr = types.ParseDateKey(req.To)
	}
	if parseErr != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "dates must be YYYY-MM-DD", nil)
		return
	}

	if len(req.ActivePositions) > 0 {
		opts.ActiveFilter = make(map[types.PositionKey][]string, len(req.ActivePositions))
		for _, ap := range req.ActivePositions {
			key := types.PositionKey{PoolID: ap.PoolID, AssetAddress: ap.AssetAddress}
			opts.ActiveFilter[key] = ap.ActiveWallets
		}
	}

	report, err := s.pnlService.GetPortfolioPnl(r.Context(), req.Addresses, opts)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Portfolio P&L failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleRefreshRates handles POST /api/admin/rates/refresh
func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.refresher.RunOnce(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Manual rates refresh failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": refreshed,
		"skipped":   !refreshed,
	})
}
