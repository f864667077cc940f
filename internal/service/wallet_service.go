package service

import (
	"context"
	"fmt"

	"github.com/backstop-dashboard/internal/models"
)

// WalletStore is the registry surface the wallet service consumes
type WalletStore interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	Get(ctx context.Context, userID, address string) (*models.Wallet, error)
	List(ctx context.Context, userID string) ([]models.Wallet, error)
	Delete(ctx context.Context, userID, address string) (bool, error)
}

// WalletService manages the followed-wallet registry
type WalletService struct {
	wallets WalletStore
}

// NewWalletService creates a new wallet service
func NewWalletService(wallets WalletStore) *WalletService {
	return &WalletService{wallets: wallets}
}

// FollowWalletInput represents input for following a wallet
type FollowWalletInput struct {
	UserID  string  `json:"userId"`
	Address string  `json:"address"`
	Label   *string `json:"label,omitempty"`
}

// Follow registers a wallet in the user's registry
func (s *WalletService) Follow(ctx context.Context, input FollowWalletInput) (*models.Wallet, error) {
	wallet := &models.Wallet{
		UserID:  input.UserID,
		Address: input.Address,
		Label:   input.Label,
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// List returns the user's followed wallets
func (s *WalletService) List(ctx context.Context, userID string) ([]models.Wallet, error) {
	wallets, err := s.wallets.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// Unfollow removes a wallet from the user's registry. Returns false when
// the wallet was not followed.
func (s *WalletService) Unfollow(ctx context.Context, userID, address string) (bool, error) {
	return s.wallets.Delete(ctx, userID, address)
}
