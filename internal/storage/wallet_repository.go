package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository handles the followed-wallet registry in Postgres
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// ValidateAddress validates a wallet address format
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return &types.ServiceError{
			Code:    "INVALID_ADDRESS",
			Message: fmt.Sprintf("invalid address format: %s", address),
			Details: map[string]interface{}{
				"address": address,
			},
		}
	}
	return nil
}

// Create registers a wallet for a user. Re-adding an existing
// (user, address) pair updates the label instead of erroring.
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := ValidateAddress(wallet.Address); err != nil {
		return err
	}
	wallet.Address = strings.ToLower(wallet.Address)
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}

	query := `
		INSERT INTO wallets (id, user_id, address, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id, address)
		DO UPDATE SET label = EXCLUDED.label, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Address,
		wallet.Label,
	).Scan(&wallet.ID, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// Get retrieves a wallet by user and address
func (r *WalletRepository) Get(ctx context.Context, userID, address string) (*models.Wallet, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	address = strings.ToLower(address)

	query := `
		SELECT id, user_id, address, label, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND address = $2
	`

	var w models.Wallet
	err := r.db.Pool().QueryRow(ctx, query, userID, address).Scan(
		&w.ID, &w.UserID, &w.Address, &w.Label, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found, return nil without error
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// List returns all wallets followed by a user
func (r *WalletRepository) List(ctx context.Context, userID string) ([]models.Wallet, error) {
	query := `
		SELECT id, user_id, address, label, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	wallets := []models.Wallet{}
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.Label, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallet rows: %w", err)
	}

	return wallets, nil
}

// Delete removes a wallet from a user's registry. Returns false when the
// wallet was not followed.
func (r *WalletRepository) Delete(ctx context.Context, userID, address string) (bool, error) {
	if err := ValidateAddress(address); err != nil {
		return false, err
	}
	address = strings.ToLower(address)

	query := `DELETE FROM wallets WHERE user_id = $1 AND address = $2`

	tag, err := r.db.Pool().Exec(ctx, query, userID, address)
	if err != nil {
		return false, fmt.Errorf("failed to delete wallet: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
