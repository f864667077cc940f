package models

import (
	"time"
)

// Wallet represents a followed wallet address in the registry
type Wallet struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Address   string    `json:"address" db:"address"`
	Label     *string   `json:"label,omitempty" db:"label"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
