package api

import (
	"net/http"

	"github.com/backstop-dashboard/internal/logging"
	"github.com/gorilla/mux"
)

// handleRealizedYield handles GET /api/wallets/{address}/yield/realized
func (s *Server) handleRealizedYield(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	opts, omissions := parseReportOptions(r)

	report, err := s.pnlService.GetRealizedYield(r.Context(), address, opts)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("address", address).Error("Realized yield failed")
		respondServiceError(w, err)
		return
	}
	report.Omissions = append(report.Omissions, omissions...)

	respondJSON(w, http.StatusOK, report)
}

// handleBorrowCostBasis handles GET /api/wallets/{address}/costbasis/borrow
func (s *Server) handleBorrowCostBasis(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	opts, omissions := parseReportOptions(r)

	breakdowns, serviceOmissions, err := s.pnlService.GetBorrowCostBasis(r.Context(), address, opts)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("address", address).Error("Borrow cost basis failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address":   address,
		"positions": breakdowns,
		"omissions": append(serviceOmissions, omissions...),
	})
}
