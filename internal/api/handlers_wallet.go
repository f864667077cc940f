package api

import (
	"net/http"

	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/service"
	"github.com/gorilla/mux"
)

// handleFollowWallet handles POST /api/wallets
func (s *Server) handleFollowWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string  `json:"address"`
		Label   *string `json:"label,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMETER", "address is required", nil)
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID required", nil)
		return
	}

	wallet, err := s.walletService.Follow(r.Context(), service.FollowWalletInput{
		UserID:  userID,
		Address: req.Address,
		Label:   req.Label,
	})
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Follow wallet failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, wallet)
}

// handleListWallets handles GET /api/wallets
func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID required", nil)
		return
	}

	wallets, err := s.walletService.List(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("List wallets failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"wallets": wallets})
}

// handleUnfollowWallet handles DELETE /api/wallets/{address}
func (s *Server) handleUnfollowWallet(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID required", nil)
		return
	}

	removed, err := s.walletService.Unfollow(r.Context(), userID, address)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Unfollow wallet failed")
		respondServiceError(w, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "wallet not followed", map[string]interface{}{"address": address})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
